// cmd/tools/registry-updater/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"rfq-workers/pkg/registry"
)

const defaultRegistryPath = "configs/activity-registry.json"

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(os.Args[2:])
	case "update":
		err = runUpdate(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	default:
		help()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAdd(args []string) error {
	cmd := flag.NewFlagSet("add", flag.ExitOnError)
	path := cmd.String("path", defaultRegistryPath, "Path to registry file")
	id := cmd.String("id", "", "Activity ID (e.g., rfq-dispatch)")
	displayName := cmd.String("displayName", "", "Display Name (e.g., Dispatch RFQ)")
	description := cmd.String("description", "", "Description")
	category := cmd.String("category", "rfq", "Category")
	taskType := cmd.String("taskType", "", "Zeebe task type (defaults to id)")
	version := cmd.String("version", "1.0.0", "Version")
	status := cmd.String("status", "planned", "Implementation Status (planned, in-progress, completed, verified)")
	timeout := cmd.String("timeout", "10s", "Job timeout")
	retries := cmd.Int("retries", 3, "Job retries")
	_ = cmd.Parse(args)

	if *id == "" || *displayName == "" {
		cmd.Usage()
		return fmt.Errorf("id and displayName are required for add")
	}
	if *taskType == "" {
		*taskType = *id
	}

	reg, err := registry.LoadRegistry(*path)
	if os.IsNotExist(err) {
		reg, err = &registry.ActivityRegistry{Version: "1.0.0"}, nil
	}
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	if err := reg.Add(registry.Activity{
		ID:                   *id,
		DisplayName:          *displayName,
		Description:          *description,
		Category:             *category,
		Version:              *version,
		TaskType:             *taskType,
		ImplementationStatus: *status,
		InputSchema:          map[string]interface{}{},
		OutputSchema:         map[string]interface{}{},
		ErrorCodes:           []string{},
		Timeout:              *timeout,
		Retries:              *retries,
		Workflows:            []string{},
		Tags:                 []string{},
	}); err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.Save(reg, *path); err != nil {
		return err
	}
	fmt.Printf("Added activity: %s\n", *id)
	return nil
}

func runUpdate(args []string) error {
	cmd := flag.NewFlagSet("update", flag.ExitOnError)
	path := cmd.String("path", defaultRegistryPath, "Path to registry file")
	id := cmd.String("id", "", "Activity ID to update")
	field := cmd.String("field", "", "Field to update (status, version, etc.)")
	value := cmd.String("value", "", "New value for the field")
	_ = cmd.Parse(args)

	if *id == "" || *field == "" || *value == "" {
		cmd.Usage()
		return fmt.Errorf("id, field, and value are required for update")
	}

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var activity *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == *id {
			activity = &reg.Activities[i]
			break
		}
	}
	if activity == nil {
		return fmt.Errorf("activity with ID %s not found", *id)
	}

	switch *field {
	case "status":
		activity.ImplementationStatus = *value
	case "version":
		activity.Version = *value
	case "displayName":
		activity.DisplayName = *value
	case "description":
		activity.Description = *value
	case "taskType":
		activity.TaskType = *value
	case "timeout":
		activity.Timeout = *value
	case "retries":
		n, err := strconv.Atoi(*value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		activity.Retries = n
	default:
		return fmt.Errorf("unknown field: %s", *field)
	}

	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.Save(reg, *path); err != nil {
		return err
	}
	fmt.Printf("Updated activity %s, field %s to %s\n", *id, *field, *value)
	return nil
}

func runValidate(args []string) error {
	cmd := flag.NewFlagSet("validate", flag.ExitOnError)
	path := cmd.String("path", defaultRegistryPath, "Path to registry file")
	_ = cmd.Parse(args)

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("registry validation failed: %w", err)
	}
	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

func help() {
	fmt.Println(`
Usage: registry-updater <command> [flags]

Commands:
  add      Add a new activity to the registry
  update   Update an existing activity's field
  validate Validate the registry file
  help     Show this help message

Examples:
  registry-updater add -id rfq-dispatch -displayName "Dispatch RFQ" -timeout 30s
  registry-updater update -id rfq-dispatch -field status -value verified
  registry-updater validate -path configs/activity-registry.json`)
}
