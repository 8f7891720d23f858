// Package all registers every source backend.
//
// Import it for side effects from binaries:
//
//	import _ "bizdash/internal/source/all"
package all

import (
	_ "bizdash/internal/source/csvfile"
	_ "bizdash/internal/source/html"
	_ "bizdash/internal/source/mssql"
	_ "bizdash/internal/source/mysql"
	_ "bizdash/internal/source/postgres"
	_ "bizdash/internal/source/sqlite"
)
