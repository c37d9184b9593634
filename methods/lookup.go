package methods

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/utils/lru"
	"github.com/ozontech/pnrpc/value"
)

type LookupRequest struct {
	Key string
}

type LookupResponse struct {
	Value string
	Found bool
}

// lookupRequestCodec кодирует запрос как value map {"key": ...}.
type lookupRequestCodec struct{}

func (lookupRequestCodec) Encode(r LookupRequest) ([]byte, error) {
	return value.Serialize(map[string]any{"key": r.Key})
}

func (lookupRequestCodec) Decode(b []byte) (LookupRequest, error) {
	v, err := value.Parse(b)
	if err != nil {
		return LookupRequest{}, err
	}
	m, err := value.AsMap(v)
	if err != nil {
		return LookupRequest{}, err
	}
	key, err := value.Get(m, "key", value.AsString)
	return LookupRequest{Key: key}, err
}

type lookupResponseCodec struct{}

func (lookupResponseCodec) Encode(r LookupResponse) ([]byte, error) {
	return value.Serialize(map[string]any{"value": r.Value, "found": r.Found})
}

func (lookupResponseCodec) Decode(b []byte) (LookupResponse, error) {
	v, err := value.Parse(b)
	if err != nil {
		return LookupResponse{}, err
	}
	m, err := value.AsMap(v)
	if err != nil {
		return LookupResponse{}, err
	}
	var r LookupResponse
	if r.Value, err = value.Get(m, "value", value.AsString); err != nil {
		return r, err
	}
	r.Found, err = value.Get(m, "found", value.AsBool)
	return r, err
}

// Lookup reads a key from the sqlite store.
var Lookup = rpc.Method[LookupRequest, LookupResponse]{
	Descriptor: rpc.Descriptor{Code: CodeLookup, Name: "lookup", Shape: rpc.Simple},
	Request:    lookupRequestCodec{},
	Response:   lookupResponseCodec{},
}

var demoRows = [][2]string{
	{"hello", "world"},
	{"pnrpc", "framed rpc over tcp"},
}

// Store is a key/value table in sqlite with an LRU cache in front of it.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, LookupResponse]
}

// OpenStore opens dsn. Empty dsn is an in-memory database with demo rows.
func OpenStore(dsn string, cacheSize int) (*Store, error) {
	seed := dsn == ""
	if seed {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lookup db: %w", err)
	}
	if seed {
		// у каждого соединения своя in-memory база
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate lookup db: %w", err)
	}

	if cacheSize < 1 {
		cacheSize = 1
	}
	s := &Store{db: db, cache: lru.New[string, LookupResponse](cacheSize)}
	if seed {
		for _, row := range demoRows {
			if err := s.Put(context.Background(), row[0], row[1]); err != nil {
				db.Close()
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Store) Put(ctx context.Context, key, val string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, val,
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	s.cache.Add(key, LookupResponse{Value: val, Found: true})
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (LookupResponse, error) {
	return s.cache.GetOrLoad(key, func(key string) (LookupResponse, error) {
		var r LookupResponse
		err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&r.Value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return r, nil
		case err != nil:
			return r, fmt.Errorf("get %q: %w", key, err)
		}
		r.Found = true
		return r, nil
	})
}

func (s *Store) Close() error { return s.db.Close() }

func lookupHandler(store *Store) rpc.Handler[LookupRequest, LookupResponse] {
	return func(ctx context.Context, call *rpc.Call[LookupRequest, LookupResponse]) error {
		req, _, err := call.Request(ctx)
		if err != nil {
			return err
		}
		resp, err := store.Get(ctx, req.Key)
		if err != nil {
			return err
		}
		return call.Respond(ctx, resp, true)
	}
}
