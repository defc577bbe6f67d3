package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token string
	err   error
	tag   pgconn.CommandTag
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestOpenAIAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.OpenAIAPIKey(context.Background())
	if err != nil {
		t.Fatalf("OpenAIAPIKey error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestOpenAIAPIKey_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.OpenAIAPIKey(context.Background())
	if err != nil {
		t.Fatalf("OpenAIAPIKey error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestOpenAIAPIKey_Error(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("conn refused")})
	if _, err := store.OpenAIAPIKey(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), " OpenAI ", "secret"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, _ := exec.exec.args[0].(string); v != ProviderOpenAI {
		t.Fatalf("expected provider %q, got %v", ProviderOpenAI, exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenRequiresValues(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), "", "secret"); err == nil {
		t.Fatal("expected error for empty provider")
	}
	if err := store.SetToken(context.Background(), ProviderOpenAI, "  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestDeleteToken(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("DELETE 1")}
	existed, err := NewStore(exec).DeleteToken(context.Background(), " OpenAI ")
	if err != nil || !existed {
		t.Fatalf("DeleteToken = (%v, %v), want (true, nil)", existed, err)
	}
	if exec.exec.args[0] != ProviderOpenAI {
		t.Fatalf("provider not normalized: %v", exec.exec.args[0])
	}

	existed, err = NewStore(&stubExecutor{tag: pgconn.NewCommandTag("DELETE 0")}).DeleteToken(context.Background(), ProviderOpenAI)
	if err != nil || existed {
		t.Fatalf("missing token: (%v, %v)", existed, err)
	}
	if _, err := NewStore(&stubExecutor{}).DeleteToken(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty provider")
	}
}
