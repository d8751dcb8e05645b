package app

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/crawlinknetworks/tray/internal/certificates"
	"github.com/crawlinknetworks/tray/internal/server"
	"github.com/crawlinknetworks/tray/internal/serverdetails"
	"github.com/crawlinknetworks/tray/internal/system"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

const (
	logFieldSignal           = "signal"
	logMessageReceivedSignal = "received signal"
)

func newVerifyCommand(resources *applicationResources, hostFlags *pflag.FlagSet) *cobra.Command {
	verifyCommand := &cobra.Command{
		Use:           "verify",
		Short:         "Serve the trust verification page over HTTPS",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd)
		},
	}

	verifyCommand.Flags().String(flagNameBindAddress, resources.configurationManager.GetString(configKeyVerifyBindAddress), "Specify bind address")
	verifyCommand.Flags().String(flagNamePort, resources.configurationManager.GetString(configKeyVerifyPort), "Port for the verification server")
	_ = resources.configurationManager.BindPFlag(configKeyVerifyBindAddress, verifyCommand.Flags().Lookup(flagNameBindAddress))
	_ = resources.configurationManager.BindPFlag(configKeyVerifyPort, verifyCommand.Flags().Lookup(flagNamePort))
	if hostFlags != nil {
		verifyCommand.Flags().AddFlagSet(hostFlags)
	}

	return verifyCommand
}

func runVerify(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	configurationManager := resources.configurationManager

	bindAddress := strings.TrimSpace(configurationManager.GetString(configKeyVerifyBindAddress))
	portValue := strings.TrimSpace(configurationManager.GetString(configKeyVerifyPort))
	if portValue == "" {
		portValue = defaultVerifyPort
	}
	portNumber, portErr := strconv.Atoi(portValue)
	if portErr != nil || portNumber <= 0 || portNumber > 65535 {
		return fmt.Errorf("invalid port %s", portValue)
	}

	hosts := sanitizeHosts(configurationManager.GetStringSlice(configKeyHosts))
	if len(hosts) == 0 {
		return errors.New("at least one host must be specified")
	}
	certificateDirectory, directoryErr := resolveCertificateDirectory(configurationManager)
	if directoryErr != nil {
		return directoryErr
	}

	fileSystem := system.NewOperatingSystemFileSystem()
	authorityConfiguration := certificates.DefaultAuthorityConfiguration(certificateDirectory)
	manager := certificates.NewCertificateAuthorityManager(fileSystem, system.NewSystemClock(), rand.Reader, authorityConfiguration)
	authorityMaterial, ensureErr := manager.EnsureCertificateAuthority(cmd.Context())
	if ensureErr != nil {
		return fmt.Errorf("ensure certificate authority: %w", ensureErr)
	}

	issuer := certificates.NewServerCertificateIssuer(fileSystem, system.NewSystemClock(), rand.Reader, certificates.DefaultServerConfiguration())
	serverCertificateRequest := certificates.ServerCertificateRequest{
		Hosts:                 hosts,
		CertificateOutputPath: filepath.Join(certificateDirectory, certificates.DefaultLeafCertificateFileName),
		PrivateKeyOutputPath:  filepath.Join(certificateDirectory, certificates.DefaultLeafPrivateKeyFileName),
	}
	leafMaterial, issueErr := issuer.IssueServerCertificate(cmd.Context(), authorityMaterial, serverCertificateRequest)
	if issueErr != nil {
		return fmt.Errorf("issue server certificate: %w", issueErr)
	}
	tlsCertificate, parseErr := tls.X509KeyPair(leafMaterial.CertificateBytes, leafMaterial.PrivateKeyBytes)
	if parseErr != nil {
		return fmt.Errorf("parse server certificate: %w", parseErr)
	}

	logVerificationCertificateMessage(resources, certificateDirectory, hosts)

	configuration := server.VerifyServerConfiguration{
		BindAddress: bindAddress,
		Port:        portValue,
		LoggingType: resources.loggingType(),
		TLS: &server.TLSConfiguration{
			LoadedCertificate: &tlsCertificate,
		},
	}
	servingAddressFormatter := serverdetails.NewServingAddressFormatter()
	verifyServerInstance := server.NewVerifyServer(resources.loggingService, servingAddressFormatter)
	serveContext, cancel := createSignalContext(cmd.Context(), resources.loggingService)
	defer cancel()

	return verifyServerInstance.Serve(serveContext, configuration)
}

func logVerificationCertificateMessage(resources *applicationResources, directory string, hosts []string) {
	if resources.loggingService == nil {
		return
	}
	if resources.loggingType() == logging.TypeConsole {
		displayHosts := strings.Join(hosts, ", ")
		resources.loggingService.Info(fmt.Sprintf("verification certificate ready (%s) hosts=[%s]", directory, displayHosts))
		return
	}
	resources.loggingService.Info("verification certificate ready", certificateDirectoryField(directory), logging.Strings(logFieldHosts, hosts))
}

func createSignalContext(parent context.Context, loggingService *logging.Service) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			return
		case receivedSignal := <-signalChannel:
			if loggingService != nil {
				loggingService.Info(logMessageReceivedSignal, logging.String(logFieldSignal, receivedSignal.String()))
			}
			cancel()
		}
	}()

	return ctx, func() {
		signal.Stop(signalChannel)
		cancel()
	}
}
