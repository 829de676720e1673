package main

// Compiled-in modules.
import (
	_ "github.com/flemzord/memoir/internal/gateway"
	_ "github.com/flemzord/memoir/internal/hostlink"
	_ "github.com/flemzord/memoir/modules/memory/sqlite"
)
