// Package mysql registers the MYSQL driver kind, backed by
// github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/dbcore/dbcore/driver"
	"github.com/dbcore/dbcore/driver/sqladapter"
)

func init() {
	driver.Register(contract{})
}

type contract struct{}

func (contract) Kind() driver.Kind { return driver.MYSQL }

// RequiresLoopThread is false: the TCP connection go-sql-driver/mysql
// opens is safe to drive from any worker goroutine.
func (contract) RequiresLoopThread() bool { return false }

// Connect accepts the native semicolon-separated conninfo
// ("host=...;port=...;user=...;password=...;db=...;charset=..."),
// translated into go-sql-driver/mysql's own DSN via mysql.Config.
func (contract) Connect(ctx context.Context, conninfo string) (driver.Handle, error) {
	dsn, err := translateDSN(conninfo)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return sqladapter.Open(ctx, "mysql", dsn, sqladapter.Dialect{Name: "mysql"})
}

func translateDSN(conninfo string) (string, error) {
	cfg := gomysql.NewConfig()
	host := "127.0.0.1"
	port := "3306"

	for _, kv := range strings.Split(conninfo, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return "", fmt.Errorf("malformed conninfo segment %q", kv)
		}
		switch strings.TrimSpace(k) {
		case "host":
			host = v
		case "port":
			if _, err := strconv.Atoi(v); err != nil {
				return "", fmt.Errorf("invalid port %q", v)
			}
			port = v
		case "user":
			cfg.User = v
		case "password":
			cfg.Passwd = v
		case "db":
			cfg.DBName = v
		case "charset":
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params["charset"] = v
		}
	}

	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	return cfg.FormatDSN(), nil
}
