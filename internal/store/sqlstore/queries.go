package sqlstore

// Queries use '?' placeholders and are rebound per driver.

var schema = []string{`
CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    rarity      TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL DEFAULT '',
    icon_url    TEXT NOT NULL DEFAULT '',
    stats       TEXT NOT NULL DEFAULT '{}'
)`, `
CREATE INDEX IF NOT EXISTS items_category_idx ON items (category)
`, `
CREATE TABLE IF NOT EXISTS quests (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    objectives  TEXT NOT NULL DEFAULT '[]',
    rewards     TEXT NOT NULL DEFAULT '[]',
    difficulty  TEXT NOT NULL DEFAULT '',
    completed   BOOLEAN NOT NULL DEFAULT FALSE,
    progress    INTEGER NOT NULL DEFAULT 0
)`, `
CREATE INDEX IF NOT EXISTS quests_completed_idx ON quests (completed)
`, `
CREATE TABLE IF NOT EXISTS app_state (
    state_key   TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  TIMESTAMP NOT NULL
)`,
}

// Upserts only touch columns that come from the game API. A repeated id
// within one refresh overwrites the earlier row.
const queryUpsertItem = `
INSERT INTO items (id, name, description, rarity, category, icon_url, stats)
VALUES (:id, :name, :description, :rarity, :category, :icon_url, :stats)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    rarity = excluded.rarity,
    category = excluded.category,
    icon_url = excluded.icon_url,
    stats = excluded.stats
`

const querySelectItemIDs = `SELECT id FROM items`

const queryDeleteItem = `DELETE FROM items WHERE id = ?`

const querySelectItems = `
SELECT id, name, description, rarity, category, icon_url, stats
FROM items
`

const queryGetItem = querySelectItems + `WHERE id = ?`

const queryUpsertQuest = `
INSERT INTO quests (id, name, description, objectives, rewards, difficulty)
VALUES (:id, :name, :description, :objectives, :rewards, :difficulty)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    objectives = excluded.objectives,
    rewards = excluded.rewards,
    difficulty = excluded.difficulty
`

const querySelectQuestIDs = `SELECT id FROM quests`

const queryDeleteQuest = `DELETE FROM quests WHERE id = ?`

const querySelectQuests = `
SELECT id, name, description, objectives, rewards, difficulty, completed, progress
FROM quests
`

const queryGetQuest = querySelectQuests + `WHERE id = ?`

const querySetQuestCompleted = `UPDATE quests SET completed = ? WHERE id = ?`

const querySetQuestProgress = `UPDATE quests SET progress = ? WHERE id = ?`

const queryResetQuests = `UPDATE quests SET completed = ?, progress = 0`

const queryPutState = `
INSERT INTO app_state (state_key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

const queryGetState = `
SELECT state_key, value, updated_at FROM app_state WHERE state_key = ?
`
