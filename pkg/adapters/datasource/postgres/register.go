package postgres

import (
	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Driver:      models.DriverPostgres,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Connect:         Connect,
		NewExecutor:     NewExecutor,
		NewIntrospector: NewIntrospector,
	})
}
