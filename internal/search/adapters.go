package search

import (
	"context"
	"errors"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/debuglog"
	"github.com/pders01/triage/internal/searchctl"
)

// ErrNoSearcher is returned when neither the backend nor a local engine is
// available.
var ErrNoSearcher = errors.New("no client search available")

// ClientSearch is the SearchFunc shape every client search path shares.
type ClientSearch = searchctl.SearchFunc[[]*backend.Client]

// RemoteSearcher is the part of backend.API used for live search.
type RemoteSearcher interface {
	SearchClients(ctx context.Context, q string) (*backend.SearchResponse, error)
}

// ClientSaver is the write side of the local client cache.
type ClientSaver interface {
	SaveClients(clients []*backend.Client) error
}

// Remote searches through the backend.
func Remote(api RemoteSearcher) ClientSearch {
	return func(ctx context.Context, q string) ([]*backend.Client, error) {
		resp, err := api.SearchClients(ctx, q)
		if err != nil {
			return nil, err
		}
		if !resp.Success || resp.Clients == nil {
			return []*backend.Client{}, nil
		}
		return resp.Clients, nil
	}
}

// Local searches a local engine.
func Local(s Searcher, limit int) ClientSearch {
	return func(ctx context.Context, q string) ([]*backend.Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := s.Search(q, limit)
		if err != nil {
			return nil, err
		}
		return Clients(results), nil
	}
}

// Caching stores every successful result in the local cache and notifies
// index listeners. Cache failures are logged, never returned.
func Caching(next ClientSearch, store ClientSaver, listeners ...UpdateListener) ClientSearch {
	return func(ctx context.Context, q string) ([]*backend.Client, error) {
		clients, err := next(ctx, q)
		if err != nil || len(clients) == 0 {
			return clients, err
		}
		if saveErr := store.SaveClients(clients); saveErr != nil {
			debuglog.Warnf("caching %d clients for %q: %v", len(clients), q, saveErr)
			return clients, nil
		}
		for _, l := range listeners {
			l.OnClientsUpdated(clients)
		}
		return clients, nil
	}
}

// Fallback answers from secondary when primary cannot reach the backend.
// Errors the backend itself returned are passed through unchanged, as is
// cancellation.
func Fallback(primary, secondary ClientSearch) ClientSearch {
	return func(ctx context.Context, q string) ([]*backend.Client, error) {
		clients, err := primary(ctx, q)
		if err == nil || ctx.Err() != nil {
			return clients, err
		}
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) || errors.Is(err, backend.ErrQueryTooShort) {
			return nil, err
		}
		debuglog.Infof("backend unreachable for %q, searching local cache: %v", q, err)
		return secondary(ctx, q)
	}
}

// Pipeline is the standard client search path: the backend, with hits
// written to the local cache, falling back to the local engine. With a nil
// api or offline set only the local engine is asked. Any argument but limit
// and offline may be nil.
func Pipeline(api RemoteSearcher, store ClientSaver, local Searcher, limit int, offline bool, listeners ...UpdateListener) ClientSearch {
	var localSearch ClientSearch
	if local != nil {
		localSearch = Local(local, limit)
	}
	if api == nil || offline {
		if localSearch == nil {
			return func(context.Context, string) ([]*backend.Client, error) {
				return nil, ErrNoSearcher
			}
		}
		return localSearch
	}

	remote := Limit(Remote(api), limit)
	if store != nil {
		remote = Caching(remote, store, listeners...)
	}
	if localSearch == nil {
		return remote
	}
	return Fallback(remote, localSearch)
}

// Limit trims the results of next to at most n clients. A non-positive n
// leaves them untouched.
func Limit(next ClientSearch, n int) ClientSearch {
	if n <= 0 {
		return next
	}
	return func(ctx context.Context, q string) ([]*backend.Client, error) {
		clients, err := next(ctx, q)
		if len(clients) > n {
			clients = clients[:n]
		}
		return clients, err
	}
}
