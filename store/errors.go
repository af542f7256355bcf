// server/store/errors.go
package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vinizap/haku/server/domain"
)

// mapError translates driver errors into the domain taxonomy. Anything it does
// not recognise is wrapped and treated as internal by callers.
func mapError(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundError{Kind: kind, ID: id}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation, pgerrcode.RestrictViolation, pgerrcode.CheckViolation:
			return domain.IntegrityError{Reason: fmt.Sprintf("%s %s violates %s", kind, id, pgErr.ConstraintName)}
		case pgerrcode.UniqueViolation:
			return domain.ValidationError{Field: kind, Reason: "already exists"}
		case pgerrcode.InvalidTextRepresentation, pgerrcode.StringDataRightTruncationDataException:
			return domain.ValidationError{Field: kind, Reason: "malformed value"}
		}
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}
