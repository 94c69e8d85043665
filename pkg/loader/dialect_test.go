package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateTableSQL(t *testing.T) {
	cols := []Column{{Name: "id", Type: TypeBigInt}, {Name: "raw", Type: TypeJSON}, {Name: "loaded_at", Type: TypeTimestamp}}

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "analytics_company_1"."crm_deals" ("id" BIGINT, "raw" JSONB, "loaded_at" TIMESTAMP)`,
		Postgres.CreateTableSQL("analytics_company_1", "crm_deals", cols))
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "analytics_company_1"."crm_deals" ("id" NUMBER(38,0), "raw" VARIANT, "loaded_at" TIMESTAMP_NTZ)`,
		Snowflake.CreateTableSQL("analytics_company_1", "crm_deals", cols))
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `analytics_company_1`.`crm_deals` (`id` BIGINT, `raw` JSON, `loaded_at` DATETIME(6))",
		MySQL.CreateTableSQL("analytics_company_1", "crm_deals", cols))
}

func TestCreateSchemaSQL(t *testing.T) {
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "analytics_company_7"`, Postgres.CreateSchemaSQL("analytics_company_7"))
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `analytics_company_7`", MySQL.CreateSchemaSQL("analytics_company_7"))
}

func TestInsertSQL(t *testing.T) {
	cols := []Column{{Name: "id", Type: TypeBigInt}, {Name: "raw", Type: TypeJSON}}

	assert.Equal(t,
		`INSERT INTO "s"."t" ("id", "raw") VALUES ($1, $2), ($3, $4)`,
		Postgres.InsertSQL("s", "t", cols, 2))
	assert.Equal(t,
		"INSERT INTO `s`.`t` (`id`, `raw`) VALUES (?, ?), (?, ?)",
		MySQL.InsertSQL("s", "t", cols, 2))
	assert.Equal(t,
		`INSERT INTO "s"."t" ("id", "raw") SELECT ?, PARSE_JSON(?) UNION ALL SELECT ?, PARSE_JSON(?)`,
		Snowflake.InsertSQL("s", "t", cols, 2))
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"we""ird"`, Postgres.Quote(`we"ird`))
	assert.Equal(t, `"we""ird"`, Snowflake.Quote(`we"ird`))
	assert.Equal(t, "`we``ird`", MySQL.Quote("we`ird"))
}

func TestRowsPerStatement(t *testing.T) {
	assert.Equal(t, 1000, Postgres.RowsPerStatement(10, 1000))
	assert.Equal(t, 65535/100, Postgres.RowsPerStatement(100, 1000))
	assert.Equal(t, 16384/40, Snowflake.RowsPerStatement(40, 0))
	assert.Equal(t, 1, MySQL.RowsPerStatement(70000, 1000))
}

func TestWatermarkSQL(t *testing.T) {
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "s"."_sync_state" ("source_system" TEXT, "table_name" TEXT, "company_id" BIGINT, "watermark" TIMESTAMP, "updated_at" TIMESTAMP)`,
		Postgres.CreateStateTableSQL("s"))
	assert.Equal(t,
		`SELECT MAX("watermark") FROM "s"."_sync_state" WHERE "source_system" = $1 AND "table_name" = $2 AND "company_id" = $3`,
		Postgres.ReadWatermarkSQL("s"))
	assert.Equal(t,
		"DELETE FROM `s`.`_sync_state` WHERE `source_system` = ? AND `table_name` = ? AND `company_id` = ?",
		MySQL.DeleteWatermarkSQL("s"))
	assert.Equal(t,
		`INSERT INTO "s"."_sync_state" ("source_system", "table_name", "company_id", "watermark", "updated_at") SELECT ?, ?, ?, ?, ?`,
		Snowflake.InsertWatermarkSQL("s"))
}
