package main

const sampleConfig = `# whload configuration
source:
  type: mssql              # mssql or postgres
  host: sqlserver.internal
  port: 1433
  database: erp
  user: loader
  password: ${ENV:SOURCE_PASSWORD}
  schema: dbo
  encrypt: "true"

warehouse:
  type: redshift           # redshift or postgres
  host: example.abc123.us-east-1.redshift.amazonaws.com
  port: 5439
  database: analytics
  user: loader
  password: ${AWS_SM:prod/redshift#password}
  schema: public
  iam_role: arn:aws:iam::123456789012:role/redshift-copy

staging:
  type: s3                 # s3 or local
  bucket: my-staging-bucket
  prefix: warehouse-loader
  region: us-east-1

migration:
  workers: 10
  chunk_max_bytes: 67108864
  compression_level: 6
  upload_max_attempts: 3
  upload_retry_delay: 1s
  fail_on_bad_rows: false
  max_rejected_rows: 1000
  include_tables: []
  exclude_tables: []
  history_retention_days: 30

schedule:
  interval: 1h
  run_on_start: true

slack:
  enabled: false
  webhook_url: ${VAULT:secret/data/loader#slack_webhook}
  channel: "#data-loads"
`
