package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/crawlinknetworks/tray/internal/certificates"
	"github.com/crawlinknetworks/tray/internal/product"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

type contextKey string

const (
	contextKeyApplicationResources contextKey = "application-resources"

	commandNameRoot       = "tray"
	defaultVerifyPort     = "8443"
	defaultConfigFileName = "config"
	defaultConfigFileType = "yaml"

	flagNameConfigFile      = "config"
	flagNameLoggingType     = "logging-type"
	flagNameCertificateDir  = "cert-dir"
	flagNameCertificatePath = "certificate"
	flagNameHost            = "host"
	flagNameAlternateMarker = "alternate-marker"
	flagNameInstallRoot     = "install-root"
	flagNameBindAddress     = "bind"
	flagNamePort            = "port"

	configKeyLoggingType           = "logging.type"
	configKeyCertificateDirectory  = "certificates.directory"
	configKeyHosts                 = "hosts"
	configKeyPolicyCertificatePath = "policy.certificate"
	configKeyPolicyAlternateMarker = "policy.alternate_marker"
	configKeyPolicyInstallRoots    = "policy.install_roots"
	configKeyVerifyBindAddress     = "verify.bind_address"
	configKeyVerifyPort            = "verify.port"

	logMessageFailedInitializeLogger = "failed to initialize logger"
	logMessageResolveUserConfigDir   = "resolve user config directory"
	logMessageCommandExecutionFailed = "command execution failed"
)

type applicationResources struct {
	configurationManager *viper.Viper
	loggingService       *logging.Service
	defaultConfigDirPath string
}

func (resources *applicationResources) updateLogger(loggingType string) error {
	normalizedType, err := logging.NormalizeType(loggingType)
	if err != nil {
		return err
	}
	if resources.loggingService != nil && resources.loggingService.Type() == normalizedType {
		return nil
	}
	service, err := logging.NewService(normalizedType)
	if err != nil {
		return err
	}
	if resources.loggingService != nil {
		_ = resources.loggingService.Sync()
	}
	resources.loggingService = service
	return nil
}

func (resources *applicationResources) loggingType() string {
	if resources.loggingService == nil {
		return logging.TypeConsole
	}
	return resources.loggingService.Type()
}

// Execute runs the CLI using the provided context and arguments, returning an exit code.
func Execute(ctx context.Context, arguments []string) int {
	initialService, err := logging.NewService(logging.TypeConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", logMessageFailedInitializeLogger, err)
		return 1
	}
	configurationManager := viper.New()
	configurationManager.SetEnvPrefix(product.EnvironmentPrefix)
	configurationManager.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configurationManager.AutomaticEnv()

	userConfigDir, userConfigErr := os.UserConfigDir()
	if userConfigErr != nil {
		initialService.Error(logMessageResolveUserConfigDir, userConfigErr)
		return 1
	}
	applicationConfigDir := filepath.Join(userConfigDir, product.FileBase)

	configurationManager.SetDefault(configKeyLoggingType, logging.TypeConsole)
	configurationManager.SetDefault(configKeyCertificateDirectory, filepath.Join(applicationConfigDir, certificates.DefaultCertificateDirectoryName))
	configurationManager.SetDefault(configKeyHosts, []string{"localhost", "127.0.0.1", "::1"})
	configurationManager.SetDefault(configKeyPolicyCertificatePath, "")
	configurationManager.SetDefault(configKeyPolicyAlternateMarker, false)
	configurationManager.SetDefault(configKeyPolicyInstallRoots, []string{})
	configurationManager.SetDefault(configKeyVerifyBindAddress, "")
	configurationManager.SetDefault(configKeyVerifyPort, defaultVerifyPort)
	resources := &applicationResources{
		configurationManager: configurationManager,
		loggingService:       initialService,
		defaultConfigDirPath: applicationConfigDir,
	}
	if err := resources.updateLogger(configurationManager.GetString(configKeyLoggingType)); err != nil {
		resources.loggingService = initialService
		resources.loggingService.Error(logMessageFailedInitializeLogger, err)
		return 1
	}
	defer func() {
		if resources.loggingService != nil {
			_ = resources.loggingService.Sync()
		}
	}()

	rootCommand := newRootCommand(resources)
	baseContext := context.WithValue(ctx, contextKeyApplicationResources, resources)
	rootCommand.SetContext(baseContext)
	rootCommand.SetArgs(arguments)

	if executionErr := rootCommand.Execute(); executionErr != nil {
		resources.loggingService.Error(logMessageCommandExecutionFailed, executionErr)
		return 1
	}

	return 0
}
