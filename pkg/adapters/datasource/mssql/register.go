package mssql

import (
	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Driver:      models.DriverMSSQL,
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+, Azure SQL Database",
		},
		Connect:         Connect,
		NewExecutor:     NewExecutor,
		NewIntrospector: NewIntrospector,
	})
}
