// Package chaos はゲートウェイへの障害注入機能を提供する。
//
// Wrap で包んだゲートウェイに対して、Monkey が一定間隔で障害を注入し、
// AttackDuration 経過後に解除する。負荷と整合性チェックが障害中に
// どう振る舞うかを観測するために使用される。
//
// # 障害タイプ
//
// - Suspend: 全ての呼び出しが ErrInjected で失敗する
// - Delay: 呼び出しごとに遅延を注入する
// - Stale: クエリが攻撃前の結果を返し続ける（古いレプリカの再現）
//
// # 使用例
//
//	gw := chaos.Wrap(inner)
//	config := chaos.DefaultConfig()
//	config.Interval = 3 * time.Second
//
//	monkey := chaos.New(gw, config)
//	monkey.Start(ctx)
//	defer monkey.Stop(5 * time.Second)
package chaos
