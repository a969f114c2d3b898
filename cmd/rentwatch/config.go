package main

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rentwatch/rentwatch/config"
)

const apiKeyHelp = "Find your API key in the marketplace account settings, then run 'rentwatch config set api_key <key>'."

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <command>",
		Short: "Manage rentwatch configuration",
	}
	cmd.AddCommand(newConfigListCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigTestCommand())
	cmd.AddCommand(newConfigUnsetCommand())
	return cmd
}

func newConfigListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := reflect.TypeOf(*rwConfig)
			v := reflect.ValueOf(rwConfig).Elem()
			for i := 0; i < t.NumField(); i++ {
				field := t.Field(i)
				propertyKey := trimTag(field.Tag.Get("yaml"))
				value := fmt.Sprintf("%v", v.Field(i).Interface())
				if value == "" || value == "[]" {
					value = "(unset)"
				}
				fmt.Printf("%s = %s\n", propertyKey, color.BlueString(value))
			}
			return nil
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <property> <value>",
		Short: "Set a specific config setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			configFilePath := config.GetFilePath()
			err := config.ReadConfigFromFile(configFilePath, cfg)
			if err != nil {
				if os.IsNotExist(err) {
					cfg = rwConfig
				} else {
					return err
				}
			}

			if err := setProperty(cfg, args[0], strings.TrimSpace(args[1])); err != nil {
				return err
			}
			return config.WriteConfig(cfg, configFilePath)
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <property>",
		Short: "Unset a specific config setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			configFilePath := config.GetFilePath()
			if err := config.ReadConfigFromFile(configFilePath, cfg); err != nil {
				return err
			}

			t := reflect.TypeOf(*cfg)
			found := false
			for i := 0; i < t.NumField(); i++ {
				field := t.Field(i)
				if trimTag(field.Tag.Get("yaml")) == args[0] {
					found = true
					reflect.ValueOf(cfg).Elem().Field(i).Set(reflect.Zero(field.Type))
				}
			}
			if !found {
				return errors.Errorf("Unknown config property: %q", args[0])
			}

			fmt.Printf("Unset %s\n", args[0])

			return config.WriteConfig(cfg, configFilePath)
		},
	}
}

func newConfigTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Rentwatch Configuration Test")
			fmt.Println("")

			if len(rwConfig.APIKey) == 0 {
				fmt.Println("You don't have an API key configured.")
				fmt.Println(apiKeyHelp)
				return errors.New("api key not configured")
			}

			machines, err := market.ListMachines(ctx)
			if err != nil {
				fmt.Println("There was a problem authenticating with your API key.")
				fmt.Println(apiKeyHelp)
				return err
			}
			fmt.Printf("Authenticated; account lists %d machine(s).\n\n", len(machines))

			if len(rwConfig.MachineIDs) == 0 {
				fmt.Println("No machine_ids configured; all machines will be monitored.")
				return nil
			}

			listed := make(map[int64]bool, len(machines))
			for _, m := range machines {
				listed[m.MachineID] = true
			}
			for _, id := range rwConfig.MachineIDs {
				if listed[id] {
					fmt.Printf("Machine %d: found\n", id)
				} else {
					fmt.Printf("Machine %d: %s\n", id, color.RedString("not listed on this account"))
				}
			}
			return nil
		},
	}
}

// setProperty assigns a string, integer, or boolean config field by its
// yaml tag. Structured fields (targets, notify) must be edited in the file.
func setProperty(cfg *config.Config, property, value string) error {
	t := reflect.TypeOf(*cfg)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if trimTag(field.Tag.Get("yaml")) != property {
			continue
		}

		target := reflect.ValueOf(cfg).Elem().Field(i)
		switch field.Type.Kind() {
		case reflect.String:
			target.SetString(value)
		case reflect.Int:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "property %q wants an integer", property)
			}
			target.SetInt(n)
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errors.Wrapf(err, "property %q wants true or false", property)
			}
			target.SetBool(b)
		default:
			return errors.Errorf("property %q cannot be set from the command line; edit %s instead", property, config.GetFilePath())
		}
		return nil
	}
	return errors.Errorf("Unknown config property: %q", property)
}

// Remove extra fields from a YAML tag e.g. "name,omitempty" -> "name".
func trimTag(tag string) string {
	return strings.Split(tag, ",")[0]
}
