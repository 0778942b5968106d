package zkgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/samuel/go-zookeeper/zk"

	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
)

// Root は全コレクションの親znode
const Root = "/loadcheck"

var (
	zkCreateFlags = int32(0)
	zkCreateACL   = zk.WorldACL(zk.PermAll)
)

// Gateway はレコード1件をznode1つとして保存するゲートウェイ
// パスは /loadcheck/<collection>/<主キー>、データはレコードのJSON
type Gateway struct {
	conn *zk.Conn
	cfg  gateway.Config
	base string
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	logger.Debug("zookeeper", format, args...)
}

// Open はカンマ区切りのサーバ一覧（cfg.Target）に接続し、コレクションのznodeを用意する
func Open(cfg gateway.Config) (*Gateway, error) {
	servers := splitServers(cfg.Target)
	if len(servers) == 0 {
		return nil, fmt.Errorf("target (server list) is required for zookeeper")
	}
	if cfg.Collection == "" || strings.Contains(cfg.Collection, "/") {
		return nil, fmt.Errorf("invalid collection name %q", cfg.Collection)
	}
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = "pk"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, _, err := zk.Connect(servers, timeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		conn: conn,
		cfg:  cfg,
		base: path.Join(Root, cfg.Collection),
	}

	// 接続確立前のリクエストは待たされるので、タイムアウト付きで準備する
	done := make(chan error, 1)
	go func() { done <- g.setup() }()
	select {
	case err := <-done:
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create %s: %w", g.base, err)
		}
	case <-time.After(timeout):
		conn.Close()
		return nil, fmt.Errorf("connect %v: timed out after %v", servers, timeout)
	}

	logger.Info("zookeeper", "Connected (servers: %v, base: %s)", servers, g.base)
	return g, nil
}

func splitServers(target string) []string {
	var out []string
	for _, s := range strings.Split(target, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// setup は Root とコレクションのznodeを作成する（既存なら何もしない）
func (g *Gateway) setup() error {
	for _, p := range []string{Root, g.base} {
		if _, err := g.conn.Create(p, nil, zkCreateFlags, zkCreateACL); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

// NodePath はレコードのznodeパスを返す
func (g *Gateway) NodePath(r gateway.Record) (string, error) {
	key, err := g.cfg.Key(r)
	if err != nil {
		return "", err
	}
	if key == "" || strings.Contains(key, "/") {
		return "", fmt.Errorf("primary key %q cannot be used as a znode name", key)
	}
	return g.base + "/" + key, nil
}

// Mutate は各レコードのznodeを上書きし、なければ作成する
func (g *Gateway) Mutate(ctx context.Context, records []gateway.Record) error {
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := g.NodePath(r)
		if err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
		if err := g.put(p, data); err != nil {
			return fmt.Errorf("put %s: %w", p, err)
		}
	}
	return nil
}

func (g *Gateway) put(p string, data []byte) error {
	_, err := g.conn.Set(p, data, -1)
	if !errors.Is(err, zk.ErrNoNode) {
		return err
	}
	_, err = g.conn.Create(p, data, zkCreateFlags, zkCreateACL)
	if errors.Is(err, zk.ErrNodeExists) {
		// 他のクライアントが先に作成した
		_, err = g.conn.Set(p, data, -1)
	}
	return err
}

// Query は子znodeを列挙してフィルタを評価する
// 主キーだけを参照する件数クエリはデータを読まずに子の名前だけで判定する
func (g *Gateway) Query(ctx context.Context, filter string, outputFields []string) ([]gateway.Row, error) {
	e, err := expr.Parse(filter)
	if err != nil {
		return nil, err
	}

	children, _, err := g.conn.Children(g.base)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", g.base, err)
	}

	keyOnly := gateway.IsCount(outputFields) && onlyReferences(e, g.cfg.PrimaryKey)

	var rows []gateway.Row
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var row gateway.Row
		if keyOnly {
			row = gateway.Row{g.cfg.PrimaryKey: keyValue(child)}
		} else {
			data, _, err := g.conn.Get(g.base + "/" + child)
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get %s: %w", child, err)
			}
			row, err = DecodeRow(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", child, err)
			}
		}
		if e.Match(row) {
			rows = append(rows, row)
		}
	}
	return gateway.Select(rows, outputFields), nil
}

func onlyReferences(e expr.Expr, field string) bool {
	for _, f := range expr.Fields(e) {
		if f != field {
			return false
		}
	}
	return true
}

// keyValue はznode名を主キー値に戻す（整数として読めれば int64）
func keyValue(name string) any {
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		return n
	}
	return name
}

// DecodeRow はznodeのJSONデータを行に変換する。数値は json.Number のまま保持する
func DecodeRow(data []byte) (gateway.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row gateway.Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// Close はセッションを閉じる
func (g *Gateway) Close() error {
	g.conn.Close()
	return nil
}

func init() {
	gateway.Register("zookeeper", func(cfg gateway.Config) (gateway.Gateway, error) {
		return Open(cfg)
	})
}
