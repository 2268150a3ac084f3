package jwt

import "context"

type ticketKey struct{}

// SetTicket stores verified ticket claims in the context.
func SetTicket(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, ticketKey{}, claims)
}

// GetTicket returns the verified ticket claims stored in the context.
func GetTicket(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(ticketKey{}).(Claims)
	return claims, ok
}
