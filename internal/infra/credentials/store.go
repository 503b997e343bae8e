// Package credentials stores provider API keys in the database so they
// can be rotated without redeploying the service.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"keisha/internal/infra"
	"keisha/internal/sqlinline"
)

const (
	ProviderAnalyzer = "analyzer"
	ProviderPayment  = "payment"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// AnalyzerAPIKey returns the stored analyzer LLM key, or "" when none is set.
func (s *Store) AnalyzerAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderAnalyzer)
}

// PaymentAPIKey returns the stored payment provider key, or "" when none is set.
func (s *Store) PaymentAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderPayment)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetAnalyzerAPIKey(ctx context.Context, key string) error {
	return s.SetToken(ctx, ProviderAnalyzer, key)
}

func (s *Store) SetPaymentAPIKey(ctx context.Context, key string) error {
	return s.SetToken(ctx, ProviderPayment, key)
}

func (s *Store) SetToken(ctx context.Context, provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credentials: api key is required")
	}
	return s.upsert(ctx, provider, key, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
