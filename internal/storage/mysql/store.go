package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"ChainBazaar/internal/market"
)

// Store 使用 MySQL 持久化市场数据，实现 market.Store。
// payments.tx_hash 上的唯一约束是支付幂等性的最终仲裁：
// 两个并发请求携带同一笔链上交易时，只有一个 INSERT 能成功。
type Store struct {
	db *sql.DB
}

// Config 描述 MySQL 连接参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建连接池并初始化数据表。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS agents (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        wallet_address VARCHAR(66) NOT NULL,
        name VARCHAR(255) DEFAULT '',
        email VARCHAR(255) DEFAULT '',
        api_key VARCHAR(128) NOT NULL,
        total_spent DECIMAL(18,6) NOT NULL DEFAULT 0,
        request_count BIGINT NOT NULL DEFAULT 0,
        last_active_at BIGINT NULL,
        created_at BIGINT NOT NULL,
        UNIQUE KEY uq_agents_wallet (wallet_address),
        UNIQUE KEY uq_agents_api_key (api_key)
)`,
		`CREATE TABLE IF NOT EXISTS providers (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        user_id VARCHAR(128) NOT NULL,
        name VARCHAR(255) DEFAULT '',
        email VARCHAR(255) DEFAULT '',
        wallet_address VARCHAR(66) DEFAULT '',
        api_key VARCHAR(128) NOT NULL,
        total_earned DECIMAL(18,6) NOT NULL DEFAULT 0,
        status VARCHAR(16) NOT NULL,
        created_at BIGINT NOT NULL,
        UNIQUE KEY uq_providers_user (user_id),
        UNIQUE KEY uq_providers_api_key (api_key)
)`,
		`CREATE TABLE IF NOT EXISTS tools (
        id VARCHAR(128) NOT NULL PRIMARY KEY,
        provider_id VARCHAR(64) NOT NULL,
        name VARCHAR(255) NOT NULL,
        description TEXT,
        external_url VARCHAR(1024) DEFAULT '',
        price_usd DECIMAL(18,6) NOT NULL,
        revenue_share INT NOT NULL DEFAULT 80,
        category VARCHAR(64) DEFAULT '',
        parameters TEXT,
        is_active TINYINT(1) NOT NULL DEFAULT 1,
        status VARCHAR(16) NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_tools_provider (provider_id)
)`,
		`CREATE TABLE IF NOT EXISTS payments (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        tx_hash VARCHAR(66) NOT NULL,
        agent_id VARCHAR(64) NOT NULL,
        tool_id VARCHAR(128) NOT NULL,
        amount_usd DECIMAL(18,6) NOT NULL,
        amount_token VARCHAR(78) DEFAULT '',
        network VARCHAR(32) DEFAULT '',
        status VARCHAR(16) NOT NULL,
        created_at BIGINT NOT NULL,
        confirmed_at BIGINT NULL,
        UNIQUE KEY uq_payments_tx_hash (tx_hash),
        INDEX idx_payments_agent (agent_id),
        INDEX idx_payments_tool (tool_id)
)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        tool_id VARCHAR(128) NOT NULL,
        agent_id VARCHAR(64) NOT NULL,
        payment_id VARCHAR(64) DEFAULT '',
        response_time_ms BIGINT NOT NULL DEFAULT 0,
        status_code INT NOT NULL DEFAULT 0,
        success TINYINT(1) NOT NULL DEFAULT 0,
        error_type VARCHAR(500) DEFAULT '',
        error_message VARCHAR(1000) DEFAULT '',
        created_at BIGINT NOT NULL,
        INDEX idx_usage_tool (tool_id),
        INDEX idx_usage_agent (agent_id),
        INDEX idx_usage_created (created_at)
)`,
	}

	for _, schema := range schemas {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("初始化数据表失败: %w", err)
		}
	}
	return nil
}

// MySQL 错误码 1062:唯一键冲突。
func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// CreateAgent 写入新的 Agent 记录。
func (s *Store) CreateAgent(ctx context.Context, agent *market.Agent) error {
	const stmt = `INSERT INTO agents
        (id, wallet_address, name, email, api_key, total_spent, request_count, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := agent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		agent.ID,
		market.NormalizeAddress(agent.WalletAddress),
		agent.Name,
		agent.Email,
		agent.APIKey,
		agent.TotalSpent.String(),
		agent.RequestCount,
		createdAt.Unix(),
	); err != nil {
		if isDuplicateKey(err) {
			return market.ErrConflict
		}
		return fmt.Errorf("写入 Agent 失败: %w", err)
	}
	return nil
}

const agentColumns = `id, wallet_address, name, email, api_key, total_spent, request_count, last_active_at, created_at`

func (s *Store) queryAgent(ctx context.Context, where string, arg any) (*market.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE `+where, arg)

	var (
		agent        market.Agent
		totalSpent   string
		lastActiveAt sql.NullInt64
		createdAt    int64
	)
	if err := row.Scan(&agent.ID, &agent.WalletAddress, &agent.Name, &agent.Email, &agent.APIKey,
		&totalSpent, &agent.RequestCount, &lastActiveAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, market.ErrAgentNotFound
		}
		return nil, fmt.Errorf("查询 Agent 失败: %w", err)
	}

	spent, err := decimal.NewFromString(totalSpent)
	if err != nil {
		return nil, fmt.Errorf("解析消费金额失败: %w", err)
	}
	agent.TotalSpent = spent
	agent.CreatedAt = time.Unix(createdAt, 0)
	if lastActiveAt.Valid {
		at := time.Unix(lastActiveAt.Int64, 0)
		agent.LastActiveAt = &at
	}
	return &agent, nil
}

// AgentByID 按 id 查找 Agent。
func (s *Store) AgentByID(ctx context.Context, id string) (*market.Agent, error) {
	return s.queryAgent(ctx, `id = ?`, id)
}

// AgentByAPIKey 按 API key 查找 Agent。
func (s *Store) AgentByAPIKey(ctx context.Context, apiKey string) (*market.Agent, error) {
	return s.queryAgent(ctx, `api_key = ?`, apiKey)
}

// AgentByWallet 按钱包地址查找 Agent。
func (s *Store) AgentByWallet(ctx context.Context, walletAddress string) (*market.Agent, error) {
	return s.queryAgent(ctx, `wallet_address = ?`, market.NormalizeAddress(walletAddress))
}

// CreditAgent 累加消费额与调用次数。
func (s *Store) CreditAgent(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error {
	const stmt = `UPDATE agents
        SET total_spent = total_spent + ?, request_count = request_count + 1, last_active_at = ?
        WHERE id = ?`

	result, err := s.db.ExecContext(ctx, stmt, amount.String(), at.Unix(), id)
	if err != nil {
		return fmt.Errorf("更新 Agent 消费记录失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return market.ErrAgentNotFound
	}
	return nil
}

// CreateProvider 写入新的提供方记录。
func (s *Store) CreateProvider(ctx context.Context, provider *market.Provider) error {
	const stmt = `INSERT INTO providers
        (id, user_id, name, email, wallet_address, api_key, total_earned, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := provider.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		provider.ID,
		provider.UserID,
		provider.Name,
		provider.Email,
		market.NormalizeAddress(provider.WalletAddress),
		provider.APIKey,
		provider.TotalEarned.String(),
		string(provider.Status),
		createdAt.Unix(),
	); err != nil {
		if isDuplicateKey(err) {
			return market.ErrConflict
		}
		return fmt.Errorf("写入提供方失败: %w", err)
	}
	return nil
}

const providerColumns = `id, user_id, name, email, wallet_address, api_key, total_earned, status, created_at`

func (s *Store) queryProvider(ctx context.Context, where string, arg any) (*market.Provider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE `+where, arg)

	var (
		provider    market.Provider
		totalEarned string
		status      string
		createdAt   int64
	)
	if err := row.Scan(&provider.ID, &provider.UserID, &provider.Name, &provider.Email,
		&provider.WalletAddress, &provider.APIKey, &totalEarned, &status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, market.ErrProviderNotFound
		}
		return nil, fmt.Errorf("查询提供方失败: %w", err)
	}

	earned, err := decimal.NewFromString(totalEarned)
	if err != nil {
		return nil, fmt.Errorf("解析分成金额失败: %w", err)
	}
	provider.TotalEarned = earned
	provider.Status = market.ProviderStatus(status)
	provider.CreatedAt = time.Unix(createdAt, 0)
	return &provider, nil
}

// ProviderByID 按 id 查找提供方。
func (s *Store) ProviderByID(ctx context.Context, id string) (*market.Provider, error) {
	return s.queryProvider(ctx, `id = ?`, id)
}

// ProviderByAPIKey 按 API key 查找提供方。
func (s *Store) ProviderByAPIKey(ctx context.Context, apiKey string) (*market.Provider, error) {
	return s.queryProvider(ctx, `api_key = ?`, apiKey)
}

// ProviderByUser 按归属用户查找提供方。
func (s *Store) ProviderByUser(ctx context.Context, userID string) (*market.Provider, error) {
	return s.queryProvider(ctx, `user_id = ?`, userID)
}

// CreditProvider 累加提供方分成收入。
func (s *Store) CreditProvider(ctx context.Context, id string, amount decimal.Decimal) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE providers SET total_earned = total_earned + ? WHERE id = ?`, amount.String(), id)
	if err != nil {
		return fmt.Errorf("更新提供方收入失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return market.ErrProviderNotFound
	}
	return nil
}

// CreateTool 写入提供方提交的工具。
func (s *Store) CreateTool(ctx context.Context, tool *market.Tool) error {
	const stmt = `INSERT INTO tools
        (id, provider_id, name, description, external_url, price_usd, revenue_share, category, parameters, is_active, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	parameters, err := encodeParameters(tool.Parameters)
	if err != nil {
		return err
	}
	createdAt := tool.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		tool.ID,
		tool.ProviderID,
		tool.Name,
		tool.Description,
		tool.ExternalURL,
		tool.PriceUSD.String(),
		tool.RevenueShare,
		tool.Category,
		parameters,
		tool.IsActive,
		string(tool.Status),
		createdAt.Unix(),
	); err != nil {
		if isDuplicateKey(err) {
			return market.ErrConflict
		}
		return fmt.Errorf("写入工具失败: %w", err)
	}
	return nil
}

const toolColumns = `id, provider_id, name, description, external_url, price_usd, revenue_share, category, parameters, is_active, status, created_at`

func scanTool(scanner interface{ Scan(...any) error }) (*market.Tool, error) {
	var (
		tool       market.Tool
		priceUSD   string
		parameters sql.NullString
		status     string
		createdAt  int64
	)
	if err := scanner.Scan(&tool.ID, &tool.ProviderID, &tool.Name, &tool.Description,
		&tool.ExternalURL, &priceUSD, &tool.RevenueShare, &tool.Category, &parameters,
		&tool.IsActive, &status, &createdAt); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(priceUSD)
	if err != nil {
		return nil, fmt.Errorf("解析工具价格失败: %w", err)
	}
	tool.PriceUSD = price
	tool.Status = market.ToolStatus(status)
	tool.CreatedAt = time.Unix(createdAt, 0)
	if parameters.Valid && parameters.String != "" {
		decoded, err := decodeParameters(parameters.String)
		if err != nil {
			return nil, err
		}
		tool.Parameters = decoded
	}
	return &tool, nil
}

// ToolByID 只返回可达（isActive 且 approved）的工具。
func (s *Store) ToolByID(ctx context.Context, id string) (*market.Tool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE id = ? AND is_active = 1 AND status = ?`,
		id, string(market.ToolApproved))

	tool, err := scanTool(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, market.ErrToolNotFound
		}
		return nil, fmt.Errorf("查询工具失败: %w", err)
	}
	return tool, nil
}

func (s *Store) listTools(ctx context.Context, where string, args ...any) ([]*market.Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("查询工具列表失败: %w", err)
	}
	defer rows.Close()

	var tools []*market.Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("解析工具记录失败: %w", err)
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历工具记录失败: %w", err)
	}
	return tools, nil
}

// ListActiveTools 返回全部可达的工具。
func (s *Store) ListActiveTools(ctx context.Context) ([]*market.Tool, error) {
	return s.listTools(ctx, `is_active = 1 AND status = ?`, string(market.ToolApproved))
}

// ListToolsByProvider 返回提供方的全部工具，包含未激活与未审核的。
func (s *Store) ListToolsByProvider(ctx context.Context, providerID string) ([]*market.Tool, error) {
	return s.listTools(ctx, `provider_id = ?`, providerID)
}

// UpdateTool 应用提供方允许的字段修改，工具必须归属该提供方。
func (s *Store) UpdateTool(ctx context.Context, id, providerID string, patch market.ToolPatch) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if patch.IsActive != nil {
		sets = append(sets, `is_active = ?`)
		args = append(args, *patch.IsActive)
	}
	if patch.PriceUSD != nil {
		sets = append(sets, `price_usd = ?`)
		args = append(args, patch.PriceUSD.String())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, providerID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE tools SET `+strings.Join(sets, ", ")+` WHERE id = ? AND provider_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("更新工具失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return market.ErrToolNotFound
	}
	return nil
}

// CreatePayment 写入支付记录。tx_hash 唯一约束冲突时返回 ErrDuplicatePayment。
func (s *Store) CreatePayment(ctx context.Context, payment *market.Payment) error {
	const stmt = `INSERT INTO payments
        (id, tx_hash, agent_id, tool_id, amount_usd, amount_token, network, status, created_at, confirmed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := payment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var confirmedAt any
	if payment.ConfirmedAt != nil {
		confirmedAt = payment.ConfirmedAt.Unix()
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		payment.ID,
		strings.ToLower(payment.TxHash),
		payment.AgentID,
		payment.ToolID,
		payment.AmountUSD.String(),
		payment.AmountToken,
		payment.Network,
		string(payment.Status),
		createdAt.Unix(),
		confirmedAt,
	); err != nil {
		if isDuplicateKey(err) {
			return market.ErrDuplicatePayment
		}
		return fmt.Errorf("写入支付记录失败: %w", err)
	}
	return nil
}

// ListPayments 返回满足条件的支付记录，按时间倒序。
func (s *Store) ListPayments(ctx context.Context, q market.PaymentQuery) ([]*market.Payment, error) {
	where, args := buildPaymentWhere(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tx_hash, agent_id, tool_id, amount_usd, amount_token, network, status, created_at, confirmed_at
        FROM payments`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("查询支付记录失败: %w", err)
	}
	defer rows.Close()

	var payments []*market.Payment
	for rows.Next() {
		var (
			payment     market.Payment
			amountUSD   string
			status      string
			createdAt   int64
			confirmedAt sql.NullInt64
		)
		if err := rows.Scan(&payment.ID, &payment.TxHash, &payment.AgentID, &payment.ToolID,
			&amountUSD, &payment.AmountToken, &payment.Network, &status, &createdAt, &confirmedAt); err != nil {
			return nil, fmt.Errorf("解析支付记录失败: %w", err)
		}
		amount, err := decimal.NewFromString(amountUSD)
		if err != nil {
			return nil, fmt.Errorf("解析支付金额失败: %w", err)
		}
		payment.AmountUSD = amount
		payment.Status = market.PaymentStatus(status)
		payment.CreatedAt = time.Unix(createdAt, 0)
		if confirmedAt.Valid {
			at := time.Unix(confirmedAt.Int64, 0)
			payment.ConfirmedAt = &at
		}
		payments = append(payments, &payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历支付记录失败: %w", err)
	}
	return payments, nil
}

// AppendUsageLog 追加一条用量日志。
func (s *Store) AppendUsageLog(ctx context.Context, log *market.UsageLog) error {
	const stmt = `INSERT INTO usage_logs
        (id, tool_id, agent_id, payment_id, response_time_ms, status_code, success, error_type, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		log.ID,
		log.ToolID,
		log.AgentID,
		log.PaymentID,
		log.ResponseTimeMs,
		log.StatusCode,
		log.Success,
		log.ErrorType,
		log.ErrorMessage,
		createdAt.Unix(),
	); err != nil {
		return fmt.Errorf("写入用量日志失败: %w", err)
	}
	return nil
}

// ListUsageLogs 返回满足条件的用量日志，按时间倒序。
func (s *Store) ListUsageLogs(ctx context.Context, q market.UsageQuery) ([]*market.UsageLog, error) {
	where, args := buildUsageWhere(q)
	query := `SELECT id, tool_id, agent_id, payment_id, response_time_ms, status_code, success, error_type, error_message, created_at
        FROM usage_logs` + where + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询用量日志失败: %w", err)
	}
	defer rows.Close()

	var logs []*market.UsageLog
	for rows.Next() {
		var (
			log       market.UsageLog
			createdAt int64
		)
		if err := rows.Scan(&log.ID, &log.ToolID, &log.AgentID, &log.PaymentID,
			&log.ResponseTimeMs, &log.StatusCode, &log.Success, &log.ErrorType, &log.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("解析用量日志失败: %w", err)
		}
		log.CreatedAt = time.Unix(createdAt, 0)
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历用量日志失败: %w", err)
	}
	return logs, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildPaymentWhere(q market.PaymentQuery) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if !q.Since.IsZero() {
		conditions = append(conditions, `created_at >= ?`)
		args = append(args, q.Since.Unix())
	}
	if q.Status != "" {
		conditions = append(conditions, `status = ?`)
		args = append(args, string(q.Status))
	}
	if len(q.ToolIDs) > 0 {
		conditions = append(conditions, `tool_id IN (`+placeholders(len(q.ToolIDs))+`)`)
		for _, id := range q.ToolIDs {
			args = append(args, id)
		}
	}
	if len(q.AgentIDs) > 0 {
		conditions = append(conditions, `agent_id IN (`+placeholders(len(q.AgentIDs))+`)`)
		for _, id := range q.AgentIDs {
			args = append(args, id)
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildUsageWhere(q market.UsageQuery) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if !q.Since.IsZero() {
		conditions = append(conditions, `created_at >= ?`)
		args = append(args, q.Since.Unix())
	}
	if len(q.ToolIDs) > 0 {
		conditions = append(conditions, `tool_id IN (`+placeholders(len(q.ToolIDs))+`)`)
		for _, id := range q.ToolIDs {
			args = append(args, id)
		}
	}
	if len(q.AgentIDs) > 0 {
		conditions = append(conditions, `agent_id IN (`+placeholders(len(q.AgentIDs))+`)`)
		for _, id := range q.AgentIDs {
			args = append(args, id)
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
