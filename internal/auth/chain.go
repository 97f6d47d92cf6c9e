package auth

import "errors"

var ErrNoVerifier = errors.New("authentication not configured")

// Chain tries each verifier in order and returns the first identity.
type Chain []TokenVerifier

// NewChain drops nil verifiers so callers can pass optional ones directly.
func NewChain(verifiers ...TokenVerifier) Chain {
	var c Chain
	for _, v := range verifiers {
		if v != nil {
			c = append(c, v)
		}
	}
	return c
}

func (c Chain) Validate(tokenString string) (*Identity, error) {
	if len(c) == 0 {
		return nil, ErrNoVerifier
	}
	var errs []error
	for _, v := range c {
		id, err := v.Validate(tokenString)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
