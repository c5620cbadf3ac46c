package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App    AppConfig
	JWT    JWTConfig
	HTTP   HTTPConfig
	Signer SignerConfig
	CMS    CMSConfig
	ETA    ETAConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// JWTConfig configuración de JWT. Secret vacío desactiva la autenticación de /api.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos, usado por etatool token
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SignerConfig firmador externo: token PKCS#11, archivo .p12 o proceso auxiliar.
type SignerConfig struct {
	Backend    string // pkcs11 | p12 | helper
	Timeout    time.Duration
	BusyPolicy string // queue | reject
	PIN        string

	PKCS11Module     string
	PKCS11Slot       int // -1 = sin índice fijo
	PKCS11TokenLabel string
	PKCS11KeyLabel   string

	P12Path     string
	P12Password string

	HelperCommand    string
	HelperCertScript string
	HelperSignScript string
}

// CMSConfig política de codificación del sobre. ContentType y Attached no
// tienen valor por defecto: el despliegue debe elegirlos.
type CMSConfig struct {
	ContentType           string // data | digested-data
	AttachedRaw           string // true | false
	OmitAlgorithmNull     bool
	EmptyDigestAlgorithms bool
}

// Attached interpreta CMS_ATTACHED.
func (c CMSConfig) Attached() (bool, error) {
	if strings.TrimSpace(c.AttachedRaw) == "" {
		return false, errors.New("CMS_ATTACHED es obligatorio (true | false)")
	}
	b, err := strconv.ParseBool(strings.TrimSpace(c.AttachedRaw))
	if err != nil {
		return false, fmt.Errorf("CMS_ATTACHED inválido: %q", c.AttachedRaw)
	}
	return b, nil
}

// ETAConfig portal de la autoridad. Sin credenciales no se habilita el envío.
type ETAConfig struct {
	IDURL        string
	APIURL       string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Enabled indica si hay credenciales para enviar documentos.
func (c ETAConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, SIGNER_BACKEND, CMS_CONTENT_TYPE, etc.
// No valida: ver Validate.
func Load() (*Config, error) {
	v := viper.New()

	// Opcional: archivo de configuración (.env o config.env)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	// También intenta config.env
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getDuration(v, key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "firmador-eta"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "firmador-eta"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 3000),
		},
		Signer: SignerConfig{
			Backend:    getString(v, "SIGNER_BACKEND", "p12"),
			Timeout:    duration("SIGNER_TIMEOUT", 30*time.Second),
			BusyPolicy: getString(v, "SIGNER_BUSY_POLICY", "queue"),
			PIN:        getString(v, "SMARTCARD_PIN", ""),

			PKCS11Module:     getString(v, "PKCS11_MODULE", ""),
			PKCS11Slot:       getInt(v, "PKCS11_SLOT", -1),
			PKCS11TokenLabel: getString(v, "PKCS11_TOKEN_LABEL", ""),
			PKCS11KeyLabel:   getString(v, "PKCS11_KEY_LABEL", ""),

			P12Path:     getString(v, "P12_PATH", ""),
			P12Password: getString(v, "P12_PASSWORD", ""),

			HelperCommand:    getString(v, "HELPER_COMMAND", "powershell"),
			HelperCertScript: getString(v, "HELPER_CERT_SCRIPT", "get_cert.ps1"),
			HelperSignScript: getString(v, "HELPER_SIGN_SCRIPT", "sign_data.ps1"),
		},
		CMS: CMSConfig{
			ContentType:           getString(v, "CMS_CONTENT_TYPE", ""),
			AttachedRaw:           getString(v, "CMS_ATTACHED", ""),
			OmitAlgorithmNull:     getBool(v, "CMS_OMIT_ALGORITHM_NULL", true),
			EmptyDigestAlgorithms: getBool(v, "CMS_EMPTY_DIGEST_ALGORITHMS", false),
		},
		ETA: ETAConfig{
			IDURL:        getString(v, "ETA_ID_URL", "https://id.eta.gov.eg"),
			APIURL:       getString(v, "ETA_API_URL", "https://api.invoicing.eta.gov.eg"),
			ClientID:     getString(v, "ETA_CLIENT_ID", ""),
			ClientSecret: getString(v, "ETA_CLIENT_SECRET", ""),
			Timeout:      duration("ETA_TIMEOUT", 60*time.Second),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate revisa lo que el servicio necesita para firmar.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.CMS.ContentType)) {
	case "":
		errs = append(errs, errors.New("CMS_CONTENT_TYPE es obligatorio (data | digested-data)"))
	case "data", "digested-data":
	default:
		errs = append(errs, fmt.Errorf("CMS_CONTENT_TYPE inválido: %q", c.CMS.ContentType))
	}
	if _, err := c.CMS.Attached(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Signer.Backend) {
	case "pkcs11":
		if c.Signer.PKCS11Module == "" {
			errs = append(errs, errors.New("PKCS11_MODULE es obligatorio con SIGNER_BACKEND=pkcs11"))
		}
	case "p12":
		if c.Signer.P12Path == "" {
			errs = append(errs, errors.New("P12_PATH es obligatorio con SIGNER_BACKEND=p12"))
		}
	case "helper":
	default:
		errs = append(errs, fmt.Errorf("SIGNER_BACKEND inválido: %q (pkcs11 | p12 | helper)", c.Signer.Backend))
	}
	if c.Signer.Timeout <= 0 {
		errs = append(errs, errors.New("SIGNER_TIMEOUT debe ser positivo"))
	}
	return errors.Join(errs...)
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if !v.IsSet(key) {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return def
	}
	return b
}

// getDuration acepta "30s", "2m" o un entero en segundos.
func getDuration(v *viper.Viper, key string, def time.Duration) (time.Duration, error) {
	if !v.IsSet(key) {
		return def, nil
	}
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s inválido: %q", key, s)
	}
	return d, nil
}
