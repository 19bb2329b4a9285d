package sqlxrepos

import (
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/masomo-pkl/core"
)

type repo struct {
	db core.DB
}

func (r repo) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return r.db
}

func isPostgres(exec core.DBExecutor) bool {
	return exec.DriverName() == "postgres"
}

// isUniqueViolation reports whether err is a unique constraint failure on either engine.
func isUniqueViolation(err error) bool {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		return e.Code == "23505"
	case *sqlite.Error:
		return e.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || e.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern returns a LIKE pattern matching s anywhere, to be used with ESCAPE '\'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// orderBy translates orderings to an ORDER BY list, keeping whitelisted fields only.
func orderBy(ordering []core.DBOrdering, columns map[string]string, fallback string) string {
	list := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if col, ok := columns[ord.Field]; ok {
			list = append(list, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	list = append(list, fallback)
	return strings.Join(list, ", ")
}
