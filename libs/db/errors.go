package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories branch on.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeExclusionViolation  = "23P01"
	CodeInvalidText         = "22P02"
)

// ErrorCode returns the SQLSTATE of a Postgres error, or "" for anything else.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the violated constraint, when Postgres reports one.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return ErrorCode(err) == CodeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return ErrorCode(err) == CodeForeignKeyViolation
}

// IsInvalidText reports malformed literals such as a non-UUID string bound to a uuid column.
func IsInvalidText(err error) bool {
	return ErrorCode(err) == CodeInvalidText
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
