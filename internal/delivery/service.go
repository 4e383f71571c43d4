package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-flora/internal/cache"
	"github.com/noah-isme/backend-flora/internal/obs"
)

// PostcodeResult reports whether an area can be delivered to.
type PostcodeResult struct {
	Postcode  string `json:"postcode"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
	// Unverified is set when the check could not run and the postcode was
	// accepted without it.
	Unverified bool `json:"unverified,omitempty"`
}

// Source fetches live delivery data from the commerce API.
type Source interface {
	DeliveryInfo(ctx context.Context) (Info, error)
	ValidatePostcode(ctx context.Context, postcode string) (PostcodeResult, error)
}

// Service serves delivery fees and postcode checks. Neither operation fails
// the caller when the source is down: fees fall back to DefaultInfo and
// postcodes are accepted.
type Service struct {
	Source   Source
	Cache    *cache.JSON
	Defaults *Info
	Log      zerolog.Logger

	group singleflight.Group
}

const infoCacheKey = "info"

func (s *Service) defaults() Info {
	if s != nil && s.Defaults != nil {
		return *s.Defaults
	}
	return DefaultInfo
}

// Info returns the current delivery fees. Concurrent misses share one
// upstream request.
func (s *Service) Info(ctx context.Context) Info {
	if s == nil || s.Source == nil {
		info := DefaultInfo
		info.Fallback = true
		return info
	}
	var cached Info
	if hit, err := s.Cache.Get(ctx, infoCacheKey, &cached); err != nil {
		s.Log.Warn().Err(err).Msg("delivery info cache read failed")
	} else if hit {
		return cached
	}

	v, err, _ := s.group.Do(infoCacheKey, func() (any, error) {
		info, err := s.Source.DeliveryInfo(ctx)
		if err != nil {
			return Info{}, err
		}
		if err := s.Cache.Set(ctx, infoCacheKey, info); err != nil {
			s.Log.Warn().Err(err).Msg("delivery info cache write failed")
		}
		return info, nil
	})
	if err != nil {
		s.Log.Warn().Err(err).Msg("delivery info unavailable, serving defaults")
		recordFallback("info")
		info := s.defaults()
		info.Fallback = true
		return info
	}
	return v.(Info)
}

// ErrPostcodeRequired is returned for blank postcodes.
var ErrPostcodeRequired = errors.New("postcode is required")

// CheckPostcode asks the commerce API whether the postcode is served. A
// failing check reports the postcode as available.
func (s *Service) CheckPostcode(ctx context.Context, postcode string) (PostcodeResult, error) {
	postcode = NormalisePostcode(postcode)
	if postcode == "" {
		return PostcodeResult{}, ErrPostcodeRequired
	}
	if s == nil || s.Source == nil {
		return PostcodeResult{Postcode: postcode, Available: true, Unverified: true}, nil
	}
	res, err := s.Source.ValidatePostcode(ctx, postcode)
	if err != nil {
		if ctx.Err() != nil {
			return PostcodeResult{}, ctx.Err()
		}
		s.Log.Warn().Err(err).Str("postcode", postcode).Msg("postcode validation unavailable, accepting")
		recordFallback("postcode")
		return PostcodeResult{Postcode: postcode, Available: true, Unverified: true}, nil
	}
	res.Postcode = postcode
	return res, nil
}

// NormalisePostcode upper-cases and collapses whitespace.
func NormalisePostcode(postcode string) string {
	return strings.ToUpper(strings.Join(strings.Fields(postcode), " "))
}

func recordFallback(operation string) {
	if obs.DeliveryFallbackTotal == nil {
		return
	}
	obs.DeliveryFallbackTotal.WithLabelValues(operation).Inc()
}
