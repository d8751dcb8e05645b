// Package server exposes the verification endpoint that proves the root
// certificate authority is trusted: an HTTPS page rendered from Markdown
// plus a WebSocket echo the page dials from the browser.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crawlinknetworks/tray/internal/markdown"
	"github.com/crawlinknetworks/tray/internal/product"
	"github.com/crawlinknetworks/tray/internal/serverdetails"
	"github.com/crawlinknetworks/tray/pkg/logging"
)

const (
	defaultLogTimeLayout     = "2006-01-02 15:04:05"
	consoleRequestTimeLayout = "02/Jan/2006 15:04:05"
	serverHeaderName         = "Server"
	serverHeaderValue        = product.FileBase
	verifyPagePath           = "/"
	verifyEchoPath           = "/echo"

	logFieldProtocol  = "protocol"
	logFieldURL       = "url"
	logFieldMethod    = "method"
	logFieldPath      = "path"
	logFieldRemote    = "remote"
	logFieldDuration  = "duration"
	logFieldStatus    = "status"
	logFieldTimestamp = "timestamp"

	logMessageServingVerify     = "serving verification page"
	logMessageShutdownInitiated = "shutdown initiated"
	logMessageShutdownCompleted = "shutdown completed"
	logMessageShutdownFailed    = "shutdown failed"
	logMessageServerError       = "server error"
	logMessageRequestStarted    = "request started"
	logMessageRequestCompleted  = "request completed"

	shutdownGracePeriod = 3 * time.Second
)

//go:embed verify.md
var verifyPageMarkdown []byte

// verifyScriptTemplate reports the wss round trip outcome on the rendered
// page. The status element is created from the script so the Markdown source
// stays free of raw HTML.
const verifyScriptTemplate = `<script>
window.addEventListener("load", function () {
  var status = document.createElement("p");
  status.id = "echo-status";
  status.textContent = "Connecting to echo endpoint...";
  document.body.appendChild(status);
  var scheme = window.location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(scheme + window.location.host + "%s");
  socket.onopen = function () { socket.send("verify"); };
  socket.onmessage = function (event) {
    status.textContent = "Echo round trip completed: " + event.data;
    socket.close();
  };
  socket.onerror = function () {
    status.textContent = "Echo round trip failed.";
  };
});
</script>`

var verifyUpgrader = websocket.Upgrader{}

// VerifyServerConfiguration describes one verification server run.
type VerifyServerConfiguration struct {
	BindAddress string
	Port        string
	PageTitle   string
	LoggingType string
	TLS         *TLSConfiguration
}

// TLSConfiguration describes transport layer security configuration.
type TLSConfiguration struct {
	CertificatePath   string
	PrivateKeyPath    string
	LoadedCertificate *tls.Certificate
}

// VerifyServer serves the verification page and echo endpoint.
type VerifyServer struct {
	loggingService          *logging.Service
	servingAddressFormatter serverdetails.ServingAddressFormatter
}

// NewVerifyServer constructs a VerifyServer.
func NewVerifyServer(loggingService *logging.Service, servingAddressFormatter serverdetails.ServingAddressFormatter) VerifyServer {
	return VerifyServer{loggingService: loggingService, servingAddressFormatter: servingAddressFormatter}
}

// Serve runs the verification server until the context is cancelled or an
// error occurs.
func (verifyServer VerifyServer) Serve(ctx context.Context, configuration VerifyServerConfiguration) error {
	if verifyServer.loggingService == nil {
		return errors.New("logging service not configured")
	}
	listeningAddress := net.JoinHostPort(configuration.BindAddress, configuration.Port)
	displayAddress := verifyServer.servingAddressFormatter.FormatHostAndPortForLogging(configuration.BindAddress, configuration.Port)
	loggingType, loggingTypeErr := verifyServer.resolveLoggingType(configuration)
	if loggingTypeErr != nil {
		return fmt.Errorf("normalize logging type: %w", loggingTypeErr)
	}
	handler := verifyServer.wrapWithLogging(verifyServer.wrapWithHeaders(verifyServer.buildVerifyHandler(configuration)), loggingType)

	server := &http.Server{
		Addr:              listeningAddress,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	certificateConfigured, configureErr := verifyServer.configureTLS(server, configuration.TLS)
	if configureErr != nil {
		return fmt.Errorf("configure tls: %w", configureErr)
	}

	scheme := "http"
	if certificateConfigured {
		scheme = "https"
	}
	if loggingType == logging.TypeConsole {
		verifyServer.loggingService.Info(formatConsoleStartMessage(configuration, scheme, displayAddress))
	} else {
		verifyServer.loggingService.Info(
			logMessageServingVerify,
			logging.String(logFieldURL, fmt.Sprintf("%s://%s", scheme, displayAddress)),
			logging.String(logFieldTimestamp, time.Now().Format(defaultLogTimeLayout)),
		)
	}

	serverErrors := make(chan error, 1)
	go func() {
		var serveErr error
		if certificateConfigured {
			serveErr = server.ListenAndServeTLS("", "")
		} else {
			serveErr = server.ListenAndServe()
		}
		serverErrors <- serveErr
	}()

	select {
	case <-ctx.Done():
		verifyServer.loggingService.Info(logMessageShutdownInitiated)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		shutdownErr := server.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			verifyServer.loggingService.Error(logMessageShutdownFailed, shutdownErr)
			return fmt.Errorf("shutdown server: %w", shutdownErr)
		}
		verifyServer.loggingService.Info(logMessageShutdownCompleted)
		return nil
	case serveErr := <-serverErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			if isAddressInUse(serveErr) {
				friendlyMessage := formatAddressInUseMessage(configuration)
				verifyServer.loggingService.Error(friendlyMessage, serveErr)
				return fmt.Errorf("address in use: %s", friendlyMessage)
			}
			verifyServer.loggingService.Error(logMessageServerError, serveErr)
			return fmt.Errorf("serve verification page: %w", serveErr)
		}
		return nil
	}
}

// FullHandler returns the complete handler chain including the logging
// middleware. Used by tests that drive the server through httptest.
func (verifyServer VerifyServer) FullHandler(configuration VerifyServerConfiguration) http.Handler {
	loggingType, loggingTypeErr := verifyServer.resolveLoggingType(configuration)
	if loggingTypeErr != nil {
		loggingType = logging.TypeConsole
	}
	return verifyServer.wrapWithLogging(verifyServer.wrapWithHeaders(verifyServer.buildVerifyHandler(configuration)), loggingType)
}

func (verifyServer VerifyServer) resolveLoggingType(configuration VerifyServerConfiguration) (string, error) {
	loggingType := ""
	if verifyServer.loggingService != nil {
		loggingType = verifyServer.loggingService.Type()
	}
	if configuration.LoggingType != "" {
		loggingType = configuration.LoggingType
	}
	return logging.NormalizeType(loggingType)
}

func (verifyServer VerifyServer) buildVerifyHandler(configuration VerifyServerConfiguration) http.Handler {
	pageTitle := configuration.PageTitle
	if pageTitle == "" {
		pageTitle = product.Name
	}
	mux := http.NewServeMux()
	mux.HandleFunc(verifyPagePath, verifyServer.servePage(pageTitle))
	mux.HandleFunc(verifyEchoPath, verifyServer.serveEcho)
	return mux
}

func (verifyServer VerifyServer) servePage(pageTitle string) http.HandlerFunc {
	return func(responseWriter http.ResponseWriter, request *http.Request) {
		if request.URL.Path != verifyPagePath {
			http.NotFound(responseWriter, request)
			return
		}
		script := fmt.Sprintf(verifyScriptTemplate, verifyEchoPath)
		document, renderErr := markdown.RenderPage(pageTitle, verifyPageMarkdown, script)
		if renderErr != nil {
			http.Error(responseWriter, "could not render verification page", http.StatusInternalServerError)
			return
		}
		responseWriter.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = responseWriter.Write(document)
	}
}

func (verifyServer VerifyServer) serveEcho(responseWriter http.ResponseWriter, request *http.Request) {
	connection, upgradeErr := verifyUpgrader.Upgrade(responseWriter, request, nil)
	if upgradeErr != nil {
		return
	}
	defer connection.Close()
	for {
		messageType, message, readErr := connection.ReadMessage()
		if readErr != nil {
			return
		}
		if writeErr := connection.WriteMessage(messageType, message); writeErr != nil {
			return
		}
	}
}

func (verifyServer VerifyServer) wrapWithHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set(serverHeaderName, serverHeaderValue)
		handler.ServeHTTP(responseWriter, request)
	})
}

func (verifyServer VerifyServer) wrapWithLogging(handler http.Handler, loggingType string) http.Handler {
	if verifyServer.loggingService == nil {
		return handler
	}
	switch loggingType {
	case logging.TypeConsole:
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			recordedWriter := newStatusRecorder(responseWriter)
			startTime := time.Now()
			handler.ServeHTTP(recordedWriter, request)
			message := formatConsoleRequestLog(request, recordedWriter.statusCode, recordedWriter.bytesWritten, startTime)
			verifyServer.loggingService.Info(message)
		})
	default:
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			recordedWriter := newStatusRecorder(responseWriter)
			startTime := time.Now()
			verifyServer.loggingService.Info(
				logMessageRequestStarted,
				logging.String(logFieldMethod, request.Method),
				logging.String(logFieldPath, request.URL.Path),
				logging.String(logFieldProtocol, request.Proto),
				logging.String(logFieldRemote, request.RemoteAddr),
			)
			handler.ServeHTTP(recordedWriter, request)
			duration := time.Since(startTime)
			verifyServer.loggingService.Info(
				logMessageRequestCompleted,
				logging.String(logFieldMethod, request.Method),
				logging.String(logFieldPath, request.URL.Path),
				logging.Int(logFieldStatus, recordedWriter.statusCode),
				logging.Duration(logFieldDuration, duration),
				logging.String(logFieldRemote, request.RemoteAddr),
			)
		})
	}
}

func (verifyServer VerifyServer) configureTLS(server *http.Server, configuration *TLSConfiguration) (bool, error) {
	if configuration == nil {
		return false, nil
	}
	if configuration.LoadedCertificate != nil {
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*configuration.LoadedCertificate}}
		return true, nil
	}
	if configuration.CertificatePath == "" || configuration.PrivateKeyPath == "" {
		return false, errors.New("both certificate and private key paths must be provided")
	}
	certificate, err := tls.LoadX509KeyPair(configuration.CertificatePath, configuration.PrivateKeyPath)
	if err != nil {
		return false, err
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{certificate}}
	return true, nil
}

func formatConsoleStartMessage(configuration VerifyServerConfiguration, scheme string, displayAddress string) string {
	bindAddress := configuration.BindAddress
	if strings.TrimSpace(bindAddress) == "" {
		bindAddress = "0.0.0.0"
	}
	return fmt.Sprintf("Serving verification page on %s port %s (%s://%s/) ...", bindAddress, configuration.Port, scheme, displayAddress)
}

func formatConsoleRequestLog(request *http.Request, statusCode int, bytesWritten int, startTime time.Time) string {
	clientAddress := request.RemoteAddr
	if host, _, err := net.SplitHostPort(clientAddress); err == nil {
		clientAddress = host
	}
	timestamp := startTime.Format(consoleRequestTimeLayout)
	requestTarget := request.URL.RequestURI()
	if requestTarget == "" {
		requestTarget = request.URL.Path
	}
	requestLine := fmt.Sprintf("%s %s %s", request.Method, requestTarget, request.Proto)
	sizeField := "-"
	if bytesWritten > 0 {
		sizeField = strconv.Itoa(bytesWritten)
	}
	return fmt.Sprintf("%s - - [%s] \"%s\" %d %s", clientAddress, timestamp, requestLine, statusCode, sizeField)
}

// statusRecorder captures the response status for request logs. It forwards
// hijack requests so WebSocket upgrades work behind the logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func newStatusRecorder(responseWriter http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: responseWriter, statusCode: http.StatusOK}
}

func (recorder *statusRecorder) WriteHeader(statusCode int) {
	recorder.statusCode = statusCode
	recorder.ResponseWriter.WriteHeader(statusCode)
}

func (recorder *statusRecorder) Write(content []byte) (int, error) {
	written, err := recorder.ResponseWriter.Write(content)
	recorder.bytesWritten += written
	return written, err
}

func (recorder *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, supported := recorder.ResponseWriter.(http.Hijacker)
	if !supported {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func formatAddressInUseMessage(configuration VerifyServerConfiguration) string {
	bindAddress := configuration.BindAddress
	if strings.TrimSpace(bindAddress) == "" {
		bindAddress = "0.0.0.0"
	}
	return fmt.Sprintf("Address already in use: %s:%s", bindAddress, configuration.Port)
}

func isAddressInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.EADDRINUSE) {
			return true
		}
		var syscallErr *os.SyscallError
		if errors.As(opErr.Err, &syscallErr) {
			return errors.Is(syscallErr.Err, syscall.EADDRINUSE)
		}
	}
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return errors.Is(syscallErr.Err, syscall.EADDRINUSE)
	}
	return errors.Is(err, syscall.EADDRINUSE)
}
