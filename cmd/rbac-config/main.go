package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/rbac"
	"github.com/oarkflow/rbac/logger"
	"github.com/oarkflow/rbac/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rbac-config - configuration tool for the rbac engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rbac-config convert <input> <output>            - Convert between YAML and JSON")
	fmt.Println("  rbac-config validate <file>                     - Validate a configuration")
	fmt.Println("  rbac-config stats <file>                        - Show configuration statistics")
	fmt.Println("  rbac-config apply <file> [sqlite-path]          - Load a configuration (in memory, or into SQLite)")
	fmt.Println("  rbac-config check <file> <org> <user> <code> [resource] - Evaluate a check against a configuration")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rbac-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	st := cfg.Stats()
	fmt.Println("Configuration is valid")
	fmt.Printf("  Organizations: %d\n", st.Organizations)
	fmt.Printf("  Roles:         %d\n", st.Roles)
	fmt.Printf("  Permissions:   %d\n", st.Permissions+st.FieldPermissions)
	fmt.Printf("  Grants:        %d\n", st.Grants)
	fmt.Printf("  Assignments:   %d\n", st.Assignments)
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config stats <file>")
		os.Exit(1)
	}
	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	st := cfg.Stats()
	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat, err := os.Stat(filename); err == nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()
	fmt.Println("Components:")
	fmt.Printf("  Organizations:     %d\n", st.Organizations)
	fmt.Printf("  Roles:             %d\n", st.Roles)
	fmt.Printf("  Permissions:       %d\n", st.Permissions)
	fmt.Printf("  Field permissions: %d\n", st.FieldPermissions)
	fmt.Printf("  Grants:            %d\n", st.Grants)
	fmt.Printf("  Assignments:       %d\n", st.Assignments)
	fmt.Printf("  Resources:         %d\n", st.Resources)
	fmt.Printf("  Accesses:          %d\n", st.Accesses)
	fmt.Println()
	fmt.Println("Engine Configuration:")
	fmt.Printf("  Max hierarchy depth:  %d\n", cfg.Engine.MaxHierarchyDepth)
	fmt.Printf("  Cache bucket seconds: %d\n", cfg.Engine.CacheBucketSeconds)
	fmt.Printf("  Resource-optional:    %d codes\n", len(cfg.Engine.ResourceOptional))
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config apply <file> [sqlite-path]")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	st := stores.NewMemoryStores()
	if len(os.Args) > 3 {
		sqlDB, err := sql.Open("sqlite", os.Args[3])
		if err != nil {
			fmt.Printf("Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer sqlDB.Close()
		db := squealx.NewDb(sqlDB, "sqlite", "rbac")
		if err := stores.Migrate(db); err != nil {
			fmt.Printf("Error migrating database: %v\n", err)
			os.Exit(1)
		}
		st = stores.NewSQLStores(db)
	}

	engine, err := rbac.NewEngine(st, rbac.WithLogger(logger.NewPhusluLogger()))
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}
	s := cfg.Stats()
	fmt.Println("Configuration applied successfully")
	fmt.Printf("  Roles loaded:       %d\n", s.Roles)
	fmt.Printf("  Grants loaded:      %d\n", s.Grants)
	fmt.Printf("  Assignments loaded: %d\n", s.Assignments)
}

func handleCheck() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: rbac-config check <file> <org> <user> <code> [resource]")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	engine, err := rbac.NewEngine(stores.NewMemoryStores())
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	resourceID := ""
	if len(os.Args) > 6 {
		resourceID = os.Args[6]
	}
	v, err := engine.Explain(ctx, os.Args[4], os.Args[3], rbac.PermissionCheck(os.Args[5]), resourceID, time.Now())
	if err != nil {
		fmt.Printf("Evaluation error: %v\n", err)
	}
	if v.Allowed {
		fmt.Println("ALLOW")
	} else {
		fmt.Printf("DENY (%s)\n", v.Reason)
	}
	for _, step := range v.Trace {
		fmt.Printf("  %s\n", step)
	}
	if !v.Allowed {
		os.Exit(2)
	}
}

func loadConfig(filename string) (*rbac.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	loader := rbac.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
}

func saveConfig(cfg *rbac.Config, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
