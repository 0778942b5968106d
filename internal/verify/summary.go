package verify

import "time"

// Window はタイムライン上の1区間の集計
type Window struct {
	Start      time.Time `json:"start" yaml:"start" msgpack:"start"`
	Checks     int       `json:"checks" yaml:"checks" msgpack:"checks"`
	Violations int       `json:"violations" yaml:"violations" msgpack:"violations"`
	Rate       float64   `json:"rate" yaml:"rate" msgpack:"rate"`
}

// Summary は全チェックの集計
type Summary struct {
	Checks        int      `json:"checks" yaml:"checks" msgpack:"checks"`
	Matches       int      `json:"matches" yaml:"matches" msgpack:"matches"`
	Violations    int      `json:"violations" yaml:"violations" msgpack:"violations"`
	QueryErrors   int      `json:"query_errors" yaml:"query_errors" msgpack:"query_errors"`
	ViolationRate float64  `json:"violation_rate" yaml:"violation_rate" msgpack:"violation_rate"`
	Timeline      []Window `json:"timeline" yaml:"timeline" msgpack:"timeline"`

	LongestStreak     int           `json:"longest_streak" yaml:"longest_streak" msgpack:"longest_streak"`
	TransientStreaks  int           `json:"transient_streaks" yaml:"transient_streaks" msgpack:"transient_streaks"`
	PersistentStreaks int           `json:"persistent_streaks" yaml:"persistent_streaks" msgpack:"persistent_streaks"`
	Recovered         bool          `json:"recovered" yaml:"recovered" msgpack:"recovered"`
	MaxRecovery       time.Duration `json:"max_recovery_ns" yaml:"max_recovery" msgpack:"max_recovery_ns"`
}

// Summarize は結果列から違反率と連続違反を集計する
// クエリエラーは連続違反を途切れさせも伸ばしもしない
func Summarize(results []Result, start time.Time, window time.Duration, persistentAfter int) Summary {
	if window <= 0 {
		window = DefaultConfig().Window
	}
	if persistentAfter <= 0 {
		persistentAfter = DefaultConfig().PersistentAfter
	}

	s := Summary{Checks: len(results), Recovered: true, Timeline: []Window{}}

	var (
		streak      int
		streakStart time.Time
	)
	closeStreak := func() {
		if streak >= persistentAfter {
			s.PersistentStreaks++
		} else {
			s.TransientStreaks++
		}
		s.LongestStreak = max(s.LongestStreak, streak)
	}

	for _, r := range results {
		if !start.IsZero() {
			idx := 0
			if off := r.Time.Sub(start); off > 0 {
				idx = int(off / window)
			}
			for len(s.Timeline) <= idx {
				s.Timeline = append(s.Timeline, Window{Start: start.Add(time.Duration(len(s.Timeline)) * window)})
			}
			w := &s.Timeline[idx]
			if r.Err == "" {
				w.Checks++
				if !r.Matched {
					w.Violations++
				}
			}
		}

		switch {
		case r.Err != "":
			s.QueryErrors++
		case r.Matched:
			s.Matches++
			if streak > 0 {
				closeStreak()
				s.MaxRecovery = max(s.MaxRecovery, r.Time.Sub(streakStart))
				streak = 0
			}
		default:
			s.Violations++
			if streak == 0 {
				streakStart = r.Time
			}
			streak++
		}
	}

	if streak > 0 {
		closeStreak()
		s.Recovered = false
	}

	if observed := s.Matches + s.Violations; observed > 0 {
		s.ViolationRate = float64(s.Violations) / float64(observed)
	}
	for i := range s.Timeline {
		if w := &s.Timeline[i]; w.Checks > 0 {
			w.Rate = float64(w.Violations) / float64(w.Checks)
		}
	}
	return s
}
