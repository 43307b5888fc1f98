package option

import (
	"fmt"
	"strings"

	"smallbiznis-licensing/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed by the repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ   Operator = "="
	NEQ  Operator = "<>"
	GT   Operator = ">"
	GTE  Operator = ">="
	LT   Operator = "<"
	LTE  Operator = "<="
	IN   Operator = "IN"
	NULL Operator = "IS NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds one WHERE condition. Field names are quoted by gorm.
func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := clause.Column{Name: c.Field}
		switch c.Operator {
		case NULL:
			return db.Where("? IS NULL", column)
		case IN:
			return db.Where("? IN ?", column, c.Value)
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(fmt.Sprintf("? %s ?", c.Operator), column, c.Value)
		default:
			_ = db.AddError(fmt.Errorf("unsupported operator %q", c.Operator))
			return db
		}
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow whitelists sortable columns; an empty map only allows "id".
	Allow map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" {
			column = "id"
		}
		if column != "id" && !s.Allow[column] {
			return db
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

// LockingUpdate is a scope adding SELECT ... FOR UPDATE.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// ApplyPagination limits the result to Limit+1 rows so callers can tell
// whether another page exists, and resumes after the cursor id.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := pagination.NormalizeLimit(p.Limit)

		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err != nil {
				_ = db.AddError(fmt.Errorf("invalid cursor: %w", err))
				return db
			}
			if cursor.ID != "" {
				db = db.Where("id > ?", cursor.ID)
			}
		}

		return db.Order("id ASC").Limit(limit + 1)
	}
}
