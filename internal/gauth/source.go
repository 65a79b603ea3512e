package gauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// expiryDelta is how long before expiry a cached token is considered stale.
const expiryDelta = 60 * time.Second

// Source mints a fresh token for every call.
type Source struct {
	minter  *Minter
	account ServiceAccount
}

func NewSource(minter *Minter, account ServiceAccount) *Source {
	return &Source{minter: minter, account: account}
}

func (s *Source) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.minter.Mint(ctx, s.account)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// CachedSource reuses a minted token until shortly before it expires.
// Concurrent callers that find the cache stale share a single mint.
type CachedSource struct {
	minter  *Minter
	account ServiceAccount
	group   singleflight.Group

	mu    sync.Mutex
	token *oauth2.Token
}

func NewCachedSource(minter *Minter, account ServiceAccount) *CachedSource {
	return &CachedSource{minter: minter, account: account}
}

func (s *CachedSource) AccessToken(ctx context.Context) (string, error) {
	if tok := s.cached(); tok != nil {
		return tok.AccessToken, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		if tok := s.cached(); tok != nil {
			return tok, nil
		}
		tok, err := s.minter.Mint(ctx, s.account)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*oauth2.Token).AccessToken, nil
}

func (s *CachedSource) cached() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || s.token.AccessToken == "" {
		return nil
	}
	if !s.token.Expiry.IsZero() && !s.minter.now().Add(expiryDelta).Before(s.token.Expiry) {
		return nil
	}
	return s.token
}
