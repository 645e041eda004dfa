package config

import (
	"fmt"
	"log/slog"

	"github.com/dskow/seckill-tokengen/internal/generator"
	"github.com/dskow/seckill-tokengen/internal/metrics"
	"github.com/dskow/seckill-tokengen/internal/token"
)

// NewSource returns the token source selected by Mode.
func (t TokenConfig) NewSource() (token.Source, error) {
	switch t.Mode {
	case "", token.ModeMock:
		return token.Mock{}, nil
	case token.ModeSigned:
		s, err := token.NewSigner(t.Signer())
		if err != nil {
			return nil, fmt.Errorf("building signer: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown token mode %q", t.Mode)
}

// Signer returns the signing options for signed mode.
func (t TokenConfig) Signer() token.SignerOptions {
	return token.SignerOptions{
		Secret:    []byte(t.Signed.Secret),
		Algorithm: t.Signed.Algorithm,
		Issuer:    t.Signed.Issuer,
		Role:      t.Signed.Role,
		IssuedAt:  t.Signed.IssuedAt,
		ExpiresAt: t.Signed.ExpiresAt,
	}
}

// GeneratorOptions maps cfg onto generator options. m may be nil.
func (cfg *Config) GeneratorOptions(logger *slog.Logger, m *metrics.Collector) (generator.Options, error) {
	src, err := cfg.Token.NewSource()
	if err != nil {
		return generator.Options{}, err
	}
	return generator.Options{
		Source:           src,
		UsernamePrefix:   cfg.Token.UsernamePrefix,
		ProgressEvery:    cfg.Progress.EveryRecords(),
		ProgressInterval: cfg.Progress.Interval,
		CRLF:             cfg.Output.CRLF,
		Logger:           logger,
		Metrics:          m,
	}, nil
}
