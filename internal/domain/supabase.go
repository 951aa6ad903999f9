package domain

import "github.com/supabase-community/supabase-go"

// SupabaseClient is the shared connection to the Supabase project.
type SupabaseClient interface {
	Initialize() error
	ValidateToken(token string) (*User, error)

	DB() *supabase.Client
}
