/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pow

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kentakayama/capgate/internal/domain/service"
	"github.com/kentakayama/capgate/internal/util"
)

// Redeem failure messages returned to the widget.
const (
	MsgInvalidBody      = "Invalid body"
	MsgChallengeExpired = "Challenge invalid or expired"
	MsgInvalidSolution  = "Invalid solution"
)

const (
	challengeTokenBytes = 25
	tokenIDBytes        = 8
	verifierBytes       = 15
)

// Options configures challenge generation and token lifetime.
type Options struct {
	// Count is the number of sub-challenges a client must solve.
	Count int
	// Size is the salt length in hex characters.
	Size int
	// Difficulty is the required hash prefix length in hex characters.
	Difficulty   int
	ChallengeTTL time.Duration
	TokenTTL     time.Duration
	// KeepTokens lets a redemption token validate more than once.
	KeepTokens bool
}

func DefaultOptions() Options {
	return Options{
		Count:        50,
		Size:         32,
		Difficulty:   4,
		ChallengeTTL: 10 * time.Minute,
		TokenTTL:     20 * time.Minute,
	}
}

func (o Options) validate() error {
	switch {
	case o.Count < 1:
		return fmt.Errorf("%w: count must be positive", ErrInvalidConfig)
	case o.Size < 1:
		return fmt.Errorf("%w: size must be positive", ErrInvalidConfig)
	case o.Difficulty < 1 || o.Difficulty > sha256.Size*2:
		return fmt.Errorf("%w: difficulty must be between 1 and %d", ErrInvalidConfig, sha256.Size*2)
	case o.ChallengeTTL <= 0 || o.TokenTTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// Params are the challenge parameters sent to the widget and stored with the
// challenge.
type Params struct {
	Count      int `json:"c"`
	Size       int `json:"s"`
	Difficulty int `json:"d"`
}

type Challenge struct {
	Challenge Params `json:"challenge"`
	Token     string `json:"token"`
	Expires   int64  `json:"expires"`
}

type RedeemResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

type ValidateResult struct {
	Success bool `json:"success"`
}

// Service issues challenges, redeems solutions for tokens and validates
// tokens. It holds no state of its own besides the two repositories.
type Service struct {
	challenges service.ChallengeRepository
	tokens     service.TokenRepository
	opts       Options
	clock      util.Clock
	random     io.Reader
	logger     zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c util.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRandom replaces crypto/rand as the source of tokens.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(challenges service.ChallengeRepository, tokens service.TokenRepository, opts Options, options ...Option) (*Service, error) {
	if challenges == nil || tokens == nil {
		return nil, fmt.Errorf("%w: repositories are required", ErrInvalidConfig)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		challenges: challenges,
		tokens:     tokens,
		opts:       opts,
		clock:      util.SystemClock,
		random:     rand.Reader,
		logger:     zerolog.Nop(),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// CreateChallenge stores a new challenge and returns it for the client.
func (s *Service) CreateChallenge(ctx context.Context) (*Challenge, error) {
	token, err := s.randomHex(challengeTokenBytes)
	if err != nil {
		return nil, err
	}
	params := Params{Count: s.opts.Count, Size: s.opts.Size, Difficulty: s.opts.Difficulty}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	expires := s.clock.NowMillis() + s.opts.ChallengeTTL.Milliseconds()

	if err := s.challenges.Store(ctx, token, string(data), expires); err != nil {
		return nil, err
	}
	return &Challenge{Challenge: params, Token: token, Expires: expires}, nil
}

// RedeemChallenge checks the solutions for the challenge stored under token
// and, when every one is correct, mints a redemption token. A challenge can
// be redeemed at most once whatever the outcome. Rejections are reported in
// the result; the error is reserved for store and random source failures.
func (s *Service) RedeemChallenge(ctx context.Context, token string, solutions json.RawMessage) (*RedeemResult, error) {
	nonces, ok := parseSolutions(solutions)
	if token == "" || !ok {
		return &RedeemResult{Message: MsgInvalidBody}, nil
	}

	stored, err := s.challenges.Read(ctx, token)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &RedeemResult{Message: MsgChallengeExpired}, nil
	}
	if err := s.challenges.Delete(ctx, token); err != nil {
		return nil, err
	}

	var params Params
	if err := json.Unmarshal([]byte(stored.Data), &params); err != nil {
		s.logger.Warn().Err(err).Msg("stored challenge has unreadable parameters")
		return &RedeemResult{Message: MsgChallengeExpired}, nil
	}
	if !verify(token, params, nonces) {
		return &RedeemResult{Message: MsgInvalidSolution}, nil
	}

	id, err := s.randomHex(tokenIDBytes)
	if err != nil {
		return nil, err
	}
	verifier, err := s.randomHex(verifierBytes)
	if err != nil {
		return nil, err
	}
	expires := s.clock.NowMillis() + s.opts.TokenTTL.Milliseconds()
	if err := s.tokens.Store(ctx, tokenKey(id, verifier), expires); err != nil {
		return nil, err
	}
	return &RedeemResult{Success: true, Token: id + ":" + verifier, Expires: expires}, nil
}

// ValidateToken reports whether token was issued by RedeemChallenge and has
// not expired. A valid token is consumed unless KeepTokens is set.
func (s *Service) ValidateToken(ctx context.Context, token string) (*ValidateResult, error) {
	id, verifier, ok := strings.Cut(token, ":")
	if !ok || id == "" || verifier == "" {
		return &ValidateResult{}, nil
	}
	key := tokenKey(id, verifier)

	stored, err := s.tokens.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &ValidateResult{}, nil
	}
	if !s.opts.KeepTokens {
		if err := s.tokens.Delete(ctx, key); err != nil {
			return nil, err
		}
	}
	return &ValidateResult{Success: true}, nil
}

// Cleanup removes expired challenges and tokens.
func (s *Service) Cleanup(ctx context.Context) (challenges int64, tokens int64, err error) {
	challenges, err = s.challenges.DeleteExpired(ctx)
	if err != nil {
		return 0, 0, err
	}
	tokens, err = s.tokens.DeleteExpired(ctx)
	if err != nil {
		return challenges, 0, err
	}
	return challenges, tokens, nil
}

func (s *Service) randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	return hex.EncodeToString(b), nil
}

// tokenKey is the stored form of a redemption token: the id and a digest of
// the verifier.
func tokenKey(id, verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return id + ":" + hex.EncodeToString(sum[:])
}

// parseSolutions accepts a JSON array of integers only.
func parseSolutions(raw json.RawMessage) ([]int64, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values []any
	if err := dec.Decode(&values); err != nil || values == nil {
		return nil, false
	}
	nonces := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		x, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, false
		}
		nonces[i] = x
	}
	return nonces, true
}

func verify(token string, p Params, nonces []int64) bool {
	if p.Count < 1 || len(nonces) < p.Count {
		return false
	}
	for i := 1; i <= p.Count; i++ {
		salt := prng(token+strconv.Itoa(i), p.Size)
		target := prng(token+strconv.Itoa(i)+"d", p.Difficulty)
		if !solves(salt, target, nonces[i-1]) {
			return false
		}
	}
	return true
}

func solves(salt, target string, nonce int64) bool {
	sum := sha256.Sum256([]byte(salt + strconv.FormatInt(nonce, 10)))
	return strings.HasPrefix(hex.EncodeToString(sum[:]), target)
}
