package database

const schema = `
CREATE TABLE IF NOT EXISTS companies (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    company_name VARCHAR(255) NOT NULL,
    email VARCHAR(255) NOT NULL UNIQUE,
    stripe_customer_id VARCHAR(128),
    stripe_subscription_id VARCHAR(128),
    trial_end TIMESTAMP NULL,
    line_user_id VARCHAR(64) NULL UNIQUE,
    status VARCHAR(16) NOT NULL DEFAULT 'active',
    welcome_pending TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_stripe_subscription (stripe_subscription_id)
);

CREATE TABLE IF NOT EXISTS company_subscriptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    company_id BIGINT NOT NULL,
    content_label VARCHAR(128) NOT NULL,
    stripe_subscription_id VARCHAR(128),
    status VARCHAR(16) NOT NULL DEFAULT 'active',
    current_period_end TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_company_content (company_id, content_label),
    FOREIGN KEY (company_id) REFERENCES companies(id)
);

CREATE TABLE IF NOT EXISTS usage_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    company_id BIGINT NOT NULL,
    content_label VARCHAR(128) NOT NULL,
    is_free TINYINT(1) NOT NULL DEFAULT 0,
    pending_charge TINYINT(1) NOT NULL DEFAULT 0,
    stripe_invoice_item_id VARCHAR(128),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_company_label (company_id, content_label),
    FOREIGN KEY (company_id) REFERENCES companies(id)
);

CREATE TABLE IF NOT EXISTS conversation_state (
    line_user_id VARCHAR(64) PRIMARY KEY,
    step VARCHAR(64) NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);
`
