package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uvensys/linkgate"
	"github.com/uvensys/linkgate/internal"
	liblinkgate "github.com/uvensys/linkgate/lib"
	"github.com/uvensys/linkgate/lib/ratelimit"
	_ "github.com/uvensys/linkgate/lib/store/all"
	valkeystore "github.com/uvensys/linkgate/lib/store/valkey"
)

var (
	bind                = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork         = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	captchaAPIURL       = flag.String("captcha-api-url", "", "base URL of the external CAPTCHA service admin API")
	captchaAdminKey     = flag.String("captcha-admin-key", "", "admin key forwarded to the CAPTCHA service as x-admin-key")
	challengeTTL        = flag.Duration("challenge-ttl", linkgate.ChallengeTTL, "challenge validity window")
	cookieDomain        = flag.String("cookie-domain", "", "if set, the top-level domain that the session cookie will be valid for")
	cookieDynamicDomain = flag.Bool("cookie-dynamic-domain", false, "if set, automatically set the cookie Domain value based on the request domain")
	cookieSecure        = flag.Bool("cookie-secure", true, "if true, sets the secure flag on session cookies")
	signingKeyHex       = flag.String("signing-key-hex", "", "hex-encoded HMAC signing key, if not set a random one will be assigned")
	signingKeyHexFile   = flag.String("signing-key-hex-file", "", "file name containing value for signing-key-hex")
	metricsBind         = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork  = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	settingsFname       = flag.String("settings-fname", "", "full path to the linkgate settings document (defaults to an in-memory store)")
	slogLevel           = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	socketMode          = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	healthcheck         = flag.Bool("healthcheck", false, "run a health check against linkgate")
	useRemoteAddress    = flag.Bool("use-remote-address", false, "read the client's IP address from the network request, useful for debugging and running linkgate on bare metal")
	versionFlag         = flag.Bool("version", false, "print linkgate version")
	xffStripPrivate     = flag.Bool("xff-strip-private", true, "if set, strip private addresses from X-Forwarded-For")
)

const signingKeySize = 32

func keyFromHex(value string) ([]byte, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != signingKeySize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", signingKeySize, len(keyBytes))
	}

	return keyBytes, nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		// keep compatibility
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :4259
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	// additional permission handling for unix sockets
	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		err = os.Chmod(address, os.FileMode(mode))
		if err != nil {
			err := listener.Close()
			if err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("linkgate", linkgate.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *cookieDomain != "" && *cookieDynamicDomain {
		log.Fatalf("you can't set COOKIE_DOMAIN and COOKIE_DYNAMIC_DOMAIN at the same time")
	}

	if *captchaAPIURL != "" {
		if _, err := url.Parse(*captchaAPIURL); err != nil {
			log.Fatalf("cannot parse captcha-api-url %q: %v", *captchaAPIURL, err)
		}
		if *captchaAdminKey == "" {
			slog.Warn("CAPTCHA_API_URL is set but no CAPTCHA_ADMIN_KEY is set, the admin proxy will reject every request")
		}
	}

	var key []byte
	var err error
	switch {
	case *signingKeyHex != "" && *signingKeyHexFile != "":
		log.Fatal("do not specify both SIGNING_KEY_HEX and SIGNING_KEY_HEX_FILE")
	case *signingKeyHex != "":
		key, err = keyFromHex(*signingKeyHex)
		if err != nil {
			log.Fatalf("failed to parse and validate SIGNING_KEY_HEX: %v", err)
		}
	case *signingKeyHexFile != "":
		hexFile, err := os.ReadFile(*signingKeyHexFile)
		if err != nil {
			log.Fatalf("failed to read SIGNING_KEY_HEX_FILE %s: %v", *signingKeyHexFile, err)
		}

		key, err = keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			log.Fatalf("failed to parse and validate content of SIGNING_KEY_HEX_FILE: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := liblinkgate.LoadSettings(*settingsFname)
	if err != nil {
		log.Fatalf("can't load settings: %v", err)
	}

	backing, err := settings.BuildStore(ctx)
	if err != nil {
		log.Fatalf("can't build store backend: %v", err)
	}

	// A valkey store means the rate limit counters should live there too,
	// so every instance behind the load balancer shares the same window.
	var limiter ratelimit.Limiter
	if vs, ok := backing.(*valkeystore.Store); ok {
		limiter = ratelimit.NewValkey(vs.Client(), settings.RateLimit.Limit, settings.RateLimit.Window.Duration)
	} else {
		limiter = ratelimit.NewMemory(ctx, settings.RateLimit.Limit, settings.RateLimit.Window.Duration)
	}

	ttl := *challengeTTL
	if *settingsFname != "" {
		ttl = settings.ChallengeTTL.Duration
	}

	s, err := liblinkgate.New(liblinkgate.Options{
		Store:               backing,
		Limiter:             limiter,
		Key:                 key,
		CaptchaAPIURL:       *captchaAPIURL,
		CaptchaAdminKey:     *captchaAdminKey,
		ChallengeTTL:        ttl,
		CookieDomain:        *cookieDomain,
		CookieDynamicDomain: *cookieDynamicDomain,
		CookieSecure:        *cookieSecure,
	})
	if err != nil {
		log.Fatalf("can't construct linkgate server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	var h http.Handler
	h = s
	h = internal.RemoteXRealIP(*useRemoteAddress, *bindNetwork, h)
	h = internal.XForwardedForToXRealIP(h)
	h = internal.XForwardedForUpdate(*xffStripPrivate, h)

	srv := http.Server{Handler: h, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", linkgate.Version,
		"store-backend", settings.Store.Backend,
		"rate-limit", settings.RateLimit.Limit,
		"rate-window", settings.RateLimit.Window.Duration,
		"challenge-ttl", ttl,
		"captcha-api-configured", *captchaAPIURL != "" && *captchaAdminKey != "",
		"use-remote-address", *useRemoteAddress,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
