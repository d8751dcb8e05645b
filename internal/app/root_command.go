package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/crawlinknetworks/tray/internal/product"
)

func newRootCommand(resources *applicationResources) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           commandNameRoot,
		Short:         "Install and verify browser trust for the " + product.Name + " certificate authority",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigurationFile(cmd); err != nil {
				return err
			}
			commandResources, resourcesErr := getApplicationResources(cmd)
			if resourcesErr != nil {
				return resourcesErr
			}
			return commandResources.updateLogger(commandResources.configurationManager.GetString(configKeyLoggingType))
		},
	}

	rootCommand.PersistentFlags().String(flagNameConfigFile, "", "Path to configuration file")
	rootCommand.PersistentFlags().String(flagNameLoggingType, resources.configurationManager.GetString(configKeyLoggingType), "Logging type (CONSOLE or JSON)")
	rootCommand.PersistentFlags().String(flagNameCertificateDir, resources.configurationManager.GetString(configKeyCertificateDirectory), "Directory holding the generated certificate authority")
	_ = resources.configurationManager.BindPFlag(configKeyLoggingType, rootCommand.PersistentFlags().Lookup(flagNameLoggingType))
	_ = resources.configurationManager.BindPFlag(configKeyCertificateDirectory, rootCommand.PersistentFlags().Lookup(flagNameCertificateDir))

	hostFlags := pflag.NewFlagSet("hosts", pflag.ContinueOnError)
	configureHostFlags(hostFlags, resources.configurationManager)

	rootCommand.AddCommand(newPolicyCommand(resources, hostFlags))
	rootCommand.AddCommand(newVerifyCommand(resources, hostFlags))

	return rootCommand
}

func configureHostFlags(flagSet *pflag.FlagSet, configurationManager *viper.Viper) {
	flagSet.StringSlice(flagNameHost, configurationManager.GetStringSlice(configKeyHosts), "Hostnames or IP addresses covered by generated certificates and auto-config scripts")
	_ = configurationManager.BindPFlag(configKeyHosts, flagSet.Lookup(flagNameHost))
}

func loadConfigurationFile(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	configurationManager := resources.configurationManager
	configFilePath, flagErr := cmd.Flags().GetString(flagNameConfigFile)
	if flagErr != nil {
		return fmt.Errorf("read config flag: %w", flagErr)
	}
	if configFilePath != "" {
		configurationManager.SetConfigFile(configFilePath)
	} else {
		configurationManager.AddConfigPath(resources.defaultConfigDirPath)
		configurationManager.SetConfigName(defaultConfigFileName)
		configurationManager.SetConfigType(defaultConfigFileType)
	}
	if readErr := configurationManager.ReadInConfig(); readErr != nil {
		if _, notFound := readErr.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("read configuration: %w", readErr)
		}
	}
	return nil
}

func getApplicationResources(cmd *cobra.Command) (*applicationResources, error) {
	resourceValue := cmd.Context().Value(contextKeyApplicationResources)
	if resourceValue == nil {
		return nil, errors.New("application resources not configured")
	}
	resources, ok := resourceValue.(*applicationResources)
	if !ok {
		return nil, errors.New("invalid application resources type")
	}
	return resources, nil
}
