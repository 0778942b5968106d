// Package all registers every gateway backend.
package all

import (
	_ "loadcheck/internal/gateway/memory"
	_ "loadcheck/internal/gateway/restgw"
	_ "loadcheck/internal/gateway/sqlgw"
	_ "loadcheck/internal/gateway/zkgw"
)
