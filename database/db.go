/*
Copyright 2024 Swiftcart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/swiftcart/dispatch/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "error connecting to database")
	}
	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS dispatch`); err != nil {
		return nil, err
	}
	if err := createOrderTable(db); err != nil {
		return nil, err
	}
	if err := createAgentTable(db); err != nil {
		return nil, err
	}
	if err := createProductTable(db); err != nil {
		return nil, err
	}
	return db, nil
}

func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}

// createOrderTable creates the PostgreSQL table backing model.Order.
func createOrderTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch.orders (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			shipping_lat DOUBLE PRECISION,
			shipping_lon DOUBLE PRECISION,
			shipping_pincode TEXT,
			live_lat DOUBLE PRECISION,
			live_lon DOUBLE PRECISION,
			assigned_agent TEXT,
			assignment_attempts TEXT[] NOT NULL DEFAULT '{}',
			items JSONB,
			total_amount NUMERIC,
			inventory_adjusted BOOLEAN NOT NULL DEFAULT FALSE,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// createAgentTable creates the PostgreSQL table backing model.DeliveryAgent.
func createAgentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch.delivery_agents (
			id SERIAL PRIMARY KEY,
			agent_id TEXT NOT NULL UNIQUE,
			lat DOUBLE PRECISION NOT NULL DEFAULT 0,
			lon DOUBLE PRECISION NOT NULL DEFAULT 0,
			pincode TEXT,
			is_online BOOLEAN NOT NULL DEFAULT FALSE,
			is_available BOOLEAN NOT NULL DEFAULT FALSE,
			active_order TEXT,
			acceptance_rate DOUBLE PRECISION NOT NULL DEFAULT 1,
			avg_delivery_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			recent_assignments INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// createProductTable creates the PostgreSQL table targeted by inventory
// adjustment and restock.
func createProductTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch.products (
			id SERIAL PRIMARY KEY,
			product_id TEXT NOT NULL UNIQUE,
			stock INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}
