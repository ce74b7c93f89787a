package config

// DefaultConfigYAML returns a commented starter configuration.
func DefaultConfigYAML() string {
	return `# governance engine configuration
# Generated by: governance init-config
#
# Evaluation order (cannot be changed):
#   1. Trust snapshot for the agent
#   2. Risk assessment (tool, time of day, trust, frequency, external target)
#   3. Policies filtered by scope, sorted by priority then specificity
#   4. First matching rule per policy; deny wins over audit and allow

# Verdict when the engine is not started or fails internally: open | closed
fail_mode: open

time_windows:
  night:
    start: "23:00"
    end: "08:00"
  business:
    start: "08:00"
    end: "20:00"
    days: [1, 2, 3, 4, 5]

policies:
  - id: no-container-removal
    description: Block destructive container commands
    priority: 100
    controls: [CC6.8]
    rules:
      - id: docker-rm
        conditions:
          - type: tool
            name: exec
            params:
              command:
                contains: "docker rm"
        effect:
          action: deny
          reason: container removal is not permitted

  - id: night-mode
    description: Read-only tools outside office hours
    priority: 50
    rules:
      - id: night-read
        conditions:
          - type: time
            window: night
          - type: tool
            name: [read, memory_search, memory_get, web_search]
        effect:
          action: allow
      - id: night-deny
        conditions:
          - type: time
            window: night
        effect:
          action: deny
          reason: night mode allows read-only tools

  - id: rate-limit
    rules:
      - id: burst
        conditions:
          - type: frequency
            max_count: 15
            window_seconds: 60
            scope: agent
        effect:
          action: deny
          reason: rate limit exceeded

  - id: external-messages
    scope:
      hooks: [message_sending]
    rules:
      - id: untrusted-external
        max_trust: restricted
        conditions:
          - type: risk
            min: high
        effect:
          action: deny
          reason: low-trust agents may not send high-risk messages
      - id: audit-external
        conditions:
          - type: risk
            min: medium
        effect:
          action: audit
          level: warn

trust:
  default_score: 10
  weights:
    age_per_day: 0.5
    age_max: 20
    success_per_action: 0.1
    success_max: 30
    violation_penalty: -2
    streak_per_success: 0.3
    streak_max: 20
  decay:
    enabled: true
    inactivity_days: 30
    rate: 0.95
  max_history: 100
  persist_interval: 60s
  penalize_denials: true

# backend: file | redis
trust_store:
  backend: file
  # path: ~/.governance/trust.json
  # redis_url: redis://localhost:6379/0

risk:
  default_criticality: 30
  business_start: "08:00"
  business_end: "20:00"
  frequency_window_seconds: 60
  frequency_threshold: 20
  tool_criticality:
    deploy: 85
  internal_hosts: [git.internal]

output_validation:
  enabled: true
  contradiction_thresholds:
    block_below: 40
    flag_above: 60
  # ignore | flag | block
  unverified_claim_policy: ignore
  self_referential_policy: ignore
  facts:
    - subject: gateway
      predicate: status
      value: online
  # fact_files: [/etc/governance/facts.yaml]
  llm:
    enabled: false
    provider: openai
    model: gpt-4o-mini
    api_key_env: OPENAI_API_KEY
    timeout_ms: 5000
    max_retries: 2
    retry_backoff_ms: 500
    fail_mode: open

audit:
  enabled: false
  # path: ~/.governance/audit.jsonl
`
}
