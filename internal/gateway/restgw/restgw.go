package restgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
)

const (
	upsertPath = "/v2/vectordb/entities/upsert"
	queryPath  = "/v2/vectordb/entities/query"
)

// Gateway はMilvus RESTful API v2 を呼び出すゲートウェイ
type Gateway struct {
	httpC      *http.Client
	baseURL    string
	token      string
	collection string
}

// Open はHTTPクライアントを作成する。接続確認は行わない（ウォームアップで検出する）
func Open(cfg gateway.Config) (*Gateway, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("target (base URL) is required for rest")
	}
	if !strings.HasPrefix(cfg.Target, "http://") && !strings.HasPrefix(cfg.Target, "https://") {
		return nil, fmt.Errorf("target must be an http(s) URL, got %q", cfg.Target)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required for rest")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("rest", "Using %s (collection: %s)", cfg.Target, cfg.Collection)
	return &Gateway{
		httpC:      &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.Target, "/"),
		token:      cfg.Token,
		collection: cfg.Collection,
	}, nil
}

// envelope はAPIの共通レスポンス
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (g *Gateway) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpC.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s status %d: %s", path, resp.StatusCode, data)
	}

	var env envelope
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%s decode: %w", path, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("%s code %d: %s", path, env.Code, env.Message)
	}
	return env.Data, nil
}

// Mutate はレコードをupsertする
func (g *Gateway) Mutate(ctx context.Context, records []gateway.Record) error {
	_, err := g.post(ctx, upsertPath, map[string]any{
		"collectionName": g.collection,
		"data":           records,
	})
	return err
}

// Query はフィルタ式をそのままサーバに渡す
func (g *Gateway) Query(ctx context.Context, filter string, outputFields []string) ([]gateway.Row, error) {
	body := map[string]any{
		"collectionName": g.collection,
		"filter":         filter,
	}
	if len(outputFields) > 0 {
		body["outputFields"] = outputFields
	}

	data, err := g.post(ctx, queryPath, body)
	if err != nil {
		return nil, err
	}

	var rows []gateway.Row
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("query decode: %w", err)
	}
	return rows, nil
}

// Close はアイドル接続を閉じる
func (g *Gateway) Close() error {
	g.httpC.CloseIdleConnections()
	return nil
}

func init() {
	gateway.Register("rest", func(cfg gateway.Config) (gateway.Gateway, error) {
		return Open(cfg)
	})
}
