package queue

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const mysqlScheme = "mysql://"

// Open picks the store from the queue host: mysql://<dsn> is a gorm table, anything else is a
// redis address.
func Open(host string) (Store, error) {
	if host == "" {
		return nil, errors.New("empty queue host")
	}
	if strings.HasPrefix(host, mysqlScheme) {
		db, err := gorm.Open(mysql.Open(strings.TrimPrefix(host, mysqlScheme)), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, errors.Wrap(err, "open mysql")
		}
		return NewSQLStore(db)
	}
	return NewRedisStore(host)
}
