package firebird

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sirlordt/godbc/dbc"
)

func TestDPBRendersDSN(t *testing.T) {
	d := newDPB("sysdba", "masterkey", map[string]string{"charset": "WIN1252"})
	u := &dbc.ParsedURL{Host: "localhost", Port: 3050, Database: "/var/db/test.fdb"}

	assert.Equal(t, "sysdba:masterkey@localhost:3050/var/db/test.fdb?charset=WIN1252", d.dsn(u))
}

func TestDPBDefaultsCharset(t *testing.T) {
	d := newDPB("sysdba", "masterkey", nil)
	assert.Equal(t, "UTF8", d.charset)
}

func TestTPBSQLIsolationMapping(t *testing.T) {
	cases := []struct {
		level dbc.IsolationLevel
		want  sql.IsolationLevel
		str   string
	}{
		{dbc.IsolationReadUncommitted, sql.LevelReadUncommitted, "READ UNCOMMITTED"},
		{dbc.IsolationReadCommitted, sql.LevelReadCommitted, "READ COMMITTED"},
		{dbc.IsolationRepeatableRead, sql.LevelSnapshot, "SNAPSHOT"},
		{dbc.IsolationSerializable, sql.LevelSnapshot, "SNAPSHOT"},
	}
	for _, c := range cases {
		tpb := newTPB(c.level, false)
		assert.Equal(t, c.want, tpb.sqlTxIsolation())
		assert.Equal(t, "ISOLATION LEVEL "+c.str+", READ WRITE", tpb.String())
	}
}

func TestTPBStringReadOnly(t *testing.T) {
	tpb := newTPB(dbc.IsolationReadCommitted, true)
	assert.Equal(t, "ISOLATION LEVEL READ COMMITTED, READ ONLY", tpb.String())
}
