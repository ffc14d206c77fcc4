package config

// DefaultConfigYAML contains the configuration written by `quorum-consensus init`.
const DefaultConfigYAML = `# quorum-consensus configuration
#
# Values not specified here use built-in defaults.
# Environment variables override file values (CONSENSUS_LOG_LEVEL, CONSENSUS_SERVER_PORT, ...).
# CONSENSUS_MODEL_TIMEOUT overrides consensus.default_model_timeout.

log:
  level: info
  format: auto

consensus:
  # Used when a model declares no timeout of its own.
  default_model_timeout: 600s
  # Added to the slowest model's timeout to form each phase deadline.
  phase_buffer: 60s
  # Maximum simultaneous provider calls across all consultations.
  max_workers: 5
  temperature: 0.2
  enable_cross_feedback: true
  # Prompt budget for models without max_input_tokens (0 disables the check).
  max_prompt_tokens: 0
  # Directory that context files and local images must live in (empty: working directory).
  files_root: ""

threads:
  # memory, file, sqlite or redis
  backend: sqlite
  path: .quorum-consensus/threads.db
  max_turns: 20
  ttl: 3h
  redis:
    addr: localhost:6379
    db: 0
    key_prefix: "consensus:thread:"

providers:
  - name: openai
    type: openai
    base_url: https://api.openai.com
    api_key_env: OPENAI_API_KEY
    rate_limit_rpm: 60
    max_retries: 2
  - name: openrouter
    type: openai
    base_url: https://openrouter.ai/api
    api_key_env: OPENROUTER_API_KEY
    rate_limit_rpm: 60
    max_retries: 2

models:
  - name: gpt-5
    provider: openai
    timeout: 900s
    max_input_tokens: 400000
  - name: gpt-4.1-mini
    provider: openai
    timeout: 300s
    max_input_tokens: 1000000
  - name: anthropic/claude-sonnet-4
    provider: openrouter
    max_input_tokens: 200000
  - name: google/gemini-2.5-pro
    provider: openrouter
    max_input_tokens: 1000000

server:
  host: 127.0.0.1
  port: 8787
  # Browser origins allowed to call the API; empty sends no CORS headers.
  cors_origins: []
  # 0 derives the limit from model timeouts: 2 x (slowest + phase_buffer) + 1m.
  request_timeout: 0s
`
