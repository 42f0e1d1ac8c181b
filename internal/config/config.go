// Package config provides a reusable loader for outlayer cluster
// configuration files and environment variables, following the same
// viper-based layering as the rest of the pack: a YAML base file, an
// optional environment-specific overlay, then environment variables as the
// final override layer.
package config

import (
	"github.com/spf13/viper"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration surface shared by the coordinator,
// worker and keystore processes. Each process only reads the sections it
// needs; unused sections are harmless.
type Config struct {
	// Chain / coordinator wiring (spec §6).
	APIBaseURL          string `mapstructure:"api_base_url"`
	APIAuthToken        string `mapstructure:"api_auth_token"`
	NearRPCURL          string `mapstructure:"near_rpc_url"`
	NearDataAPIURL      string `mapstructure:"neardata_api_url"`
	FastNearAPIURL      string `mapstructure:"fastnear_api_url"`
	StartBlockHeight    uint64 `mapstructure:"start_block_height"`
	ContractID          string `mapstructure:"offchainvm_contract_id"`
	OperatorAccountID   string `mapstructure:"operator_account_id"`
	OperatorPrivateKey  string `mapstructure:"operator_private_key"`

	// Keystore / TEE registration (spec §4.5, §6).
	UseTEERegistration    bool   `mapstructure:"use_tee_registration"`
	RegisterContractID    string `mapstructure:"register_contract_id"`
	InitAccountID         string `mapstructure:"init_account_id"`
	InitAccountPrivateKey string `mapstructure:"init_account_private_key"`
	KeystoreBaseURL       string `mapstructure:"keystore_base_url"`
	KeystoreAuthToken     string `mapstructure:"keystore_auth_token"`
	TEEMode               string `mapstructure:"tee_mode"` // tdx|sgx|sev|simulated|none

	// Worker compilation (spec §4.6.1, §6).
	CompilationMode    string `mapstructure:"compilation_mode"` // docker|native
	CompilationEnabled bool   `mapstructure:"compilation_enabled"`
	ExecutionEnabled   bool   `mapstructure:"execution_enabled"`

	// Misc / admin (spec §6).
	SaveSystemHiddenLogsToDebug bool `mapstructure:"save_system_hidden_logs_to_debug"`
	PrintWasmStderr             bool `mapstructure:"print_wasm_stderr"`
	RPCProxyAllowTransactions   bool `mapstructure:"near_rpc_proxy_allow_transactions"`
	RPCProxyMaxCalls            int  `mapstructure:"near_rpc_proxy_max_calls"`

	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// envBindings lists every mapstructure key alongside the literal environment
// variable name from spec §6. Flat struct keys are bound explicitly rather
// than relying on viper's automatic key replacer, since several env var
// names (NEARDATA_API_URL, OFFCHAINVM_CONTRACT_ID) don't map cleanly from a
// mechanical upper-cased dotted path.
var envBindings = map[string]string{
	"api_base_url":                      "API_BASE_URL",
	"api_auth_token":                    "API_AUTH_TOKEN",
	"near_rpc_url":                      "NEAR_RPC_URL",
	"neardata_api_url":                  "NEARDATA_API_URL",
	"fastnear_api_url":                  "FASTNEAR_API_URL",
	"start_block_height":                "START_BLOCK_HEIGHT",
	"offchainvm_contract_id":            "OFFCHAINVM_CONTRACT_ID",
	"operator_account_id":               "OPERATOR_ACCOUNT_ID",
	"operator_private_key":              "OPERATOR_PRIVATE_KEY",
	"use_tee_registration":              "USE_TEE_REGISTRATION",
	"register_contract_id":              "REGISTER_CONTRACT_ID",
	"init_account_id":                   "INIT_ACCOUNT_ID",
	"init_account_private_key":          "INIT_ACCOUNT_PRIVATE_KEY",
	"keystore_base_url":                 "KEYSTORE_BASE_URL",
	"keystore_auth_token":               "KEYSTORE_AUTH_TOKEN",
	"tee_mode":                          "TEE_MODE",
	"compilation_mode":                  "COMPILATION_MODE",
	"compilation_enabled":               "COMPILATION_ENABLED",
	"execution_enabled":                 "EXECUTION_ENABLED",
	"save_system_hidden_logs_to_debug":  "SAVE_SYSTEM_HIDDEN_LOGS_TO_DEBUG",
	"print_wasm_stderr":                 "PRINT_WASM_STDERR",
	"near_rpc_proxy_allow_transactions": "NEAR_RPC_PROXY_ALLOW_TRANSACTIONS",
	"near_rpc_proxy_max_calls":          "NEAR_RPC_PROXY_MAX_CALLS",
	"logging.level":                     "LOG_LEVEL",
	"logging.file":                      "LOG_FILE",
}

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. A missing config file is not fatal — defaults plus environment
// variables are sufficient to run a minimal worker or keystore.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, "merge "+env+" config")
			}
		}
	}

	for key, envVar := range envBindings {
		if err := viper.BindEnv(key, envVar); err != nil {
			return nil, utils.Wrap(err, "bind env "+envVar)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("compilation_mode", "docker")
	viper.SetDefault("tee_mode", "none")
	viper.SetDefault("near_rpc_proxy_max_calls", 100)
	viper.SetDefault("logging.level", "info")
}

// LoadFromEnv loads configuration using the OUTLAYER_ENV environment
// variable to select an overlay file ("" loads defaults only).
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("OUTLAYER_ENV", ""))
}
