// Package postgres is the storage collaborator backed by PostgreSQL through
// pgx. Accounts live in user_account and reference a row in role by id;
// records expose the role's slug.
//
// Every write bumps user_account.version so a cached record can be told
// apart from its successor.
package postgres
