// Package app composes the paywall services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (user, post, purchase, follow, like)
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # UserStore, PostStore, PurchaseStore, ...
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── sqlstore/       # PostgreSQL and SQLite over sqlx, with migrations
//	│   ├── supabase/       # Hosted Supabase (PostgREST + RPC)
//	│   └── cache/          # Redis read-through cache for purchases
//	├── services/
//	│   ├── access/         # Visibility decisions and redaction
//	│   ├── unlock/         # Pay-to-unlock coordination
//	│   ├── settlement/     # Simulated and HTTP settlement providers
//	│   ├── reconcile/      # Journal and retry of unrecorded payments
//	│   ├── auth/           # Wallet sign-in and session tokens
//	│   ├── users/ posts/ media/
//	├── feed/               # Websocket fan-out of new posts
//	├── httpapi/            # REST routes and handlers
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/paywall
//	      │
//	      ▼
//	internal/app (composition) ──► services ──► storage interfaces
//	      │                                          ▲
//	      └──► httpapi                               │
//	                                   memory / sqlstore / supabase / cache
//
// Business rules live in services; storage implementations only translate
// backend errors into storage.ErrNotFound and storage.ErrConflict.
package app
