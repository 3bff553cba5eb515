package postgres

// SQL-миграции встроены в код для упрощения деплоя.
var migrations = []struct {
	version int
	sql     string
}{
	{1, migration001Accounts},
	{2, migration002Events},
	{3, migration003Ledger},
	{4, migration004Audit},
}

var migration001Accounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id BIGSERIAL PRIMARY KEY,
    username VARCHAR(150) UNIQUE NOT NULL,
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255) NOT NULL DEFAULT '',
    email VARCHAR(255) NOT NULL DEFAULT '',
    balance NUMERIC(12,2) NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance);
`

var migration002Events = `
CREATE TABLE IF NOT EXISTS shared_events (
    id BIGSERIAL PRIMARY KEY,
    description VARCHAR(254) NOT NULL,
    date DATE NOT NULL,
    price NUMERIC(12,2) CHECK (price >= 0),
    payment_by_ponderation BOOLEAN NOT NULL DEFAULT FALSE,
    bills VARCHAR(254) NOT NULL DEFAULT '',
    manager_id BIGINT NOT NULL REFERENCES accounts(id),
    allow_self_registration BOOLEAN NOT NULL DEFAULT TRUE,
    registration_deadline DATE,
    done BOOLEAN NOT NULL DEFAULT FALSE,
    remark VARCHAR(254) NOT NULL DEFAULT '',
    settled_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS event_weights (
    event_id BIGINT NOT NULL REFERENCES shared_events(id),
    account_id BIGINT NOT NULL REFERENCES accounts(id),
    registration INTEGER NOT NULL DEFAULT 0 CHECK (registration >= 0),
    participation INTEGER NOT NULL DEFAULT 0 CHECK (participation >= 0),
    PRIMARY KEY (event_id, account_id)
);
CREATE INDEX IF NOT EXISTS idx_event_weights_account ON event_weights(account_id);
`

var migration003Ledger = `
CREATE TABLE IF NOT EXISTS movements (
    id BIGSERIAL PRIMARY KEY,
    category VARCHAR(32) NOT NULL CHECK (category IN
        ('sale', 'recharging', 'transfert', 'exceptional_movement', 'shared_event')),
    amount NUMERIC(12,2) NOT NULL,
    sender_id BIGINT NOT NULL REFERENCES accounts(id),
    recipient_id BIGINT NOT NULL REFERENCES accounts(id),
    operator_id BIGINT NOT NULL REFERENCES accounts(id),
    date TIMESTAMPTZ NOT NULL,
    done BOOLEAN NOT NULL DEFAULT FALSE,
    wording TEXT NOT NULL DEFAULT '',
    justification TEXT NOT NULL DEFAULT '',
    event_id BIGINT REFERENCES shared_events(id),
    linked_id BIGINT REFERENCES movements(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (sender_id <> recipient_id)
);
CREATE INDEX IF NOT EXISTS idx_movements_sender ON movements(sender_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_movements_recipient ON movements(recipient_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_movements_event ON movements(event_id);

CREATE TABLE IF NOT EXISTS sale_lines (
    id BIGSERIAL PRIMARY KEY,
    movement_id BIGINT NOT NULL REFERENCES movements(id) ON DELETE CASCADE,
    product VARCHAR(254) NOT NULL,
    quantity BIGINT NOT NULL CHECK (quantity > 0),
    unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0)
);
CREATE INDEX IF NOT EXISTS idx_sale_lines_movement ON sale_lines(movement_id);

CREATE TABLE IF NOT EXISTS payment_instruments (
    id BIGSERIAL PRIMARY KEY,
    kind VARCHAR(16) NOT NULL CHECK (kind IN ('cash', 'cheque', 'bank_debit', 'gateway')),
    amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
    sender_id BIGINT NOT NULL REFERENCES accounts(id),
    recipient_id BIGINT NOT NULL REFERENCES accounts(id),
    issued_at TIMESTAMPTZ NOT NULL,
    external_id VARCHAR(255),
    cheque_number VARCHAR(7),
    bank VARCHAR(255) NOT NULL DEFAULT '',
    online BOOLEAN NOT NULL DEFAULT FALSE,
    fee NUMERIC(12,2) NOT NULL DEFAULT 0,
    cashed BOOLEAN NOT NULL DEFAULT FALSE,
    cashed_at TIMESTAMPTZ,
    movement_id BIGINT REFERENCES movements(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (kind <> 'gateway' OR external_id IS NOT NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_payment_instruments_gateway_external_id
    ON payment_instruments(external_id) WHERE kind = 'gateway';
CREATE INDEX IF NOT EXISTS idx_payment_instruments_movement ON payment_instruments(movement_id);
`

var migration004Audit = `
CREATE TABLE IF NOT EXISTS audit_events (
    id UUID PRIMARY KEY,
    event_type VARCHAR(64) NOT NULL,
    event_data JSONB,
    event_metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type, created_at DESC);
`
