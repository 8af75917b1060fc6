package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"radgate.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		appDSN     = flag.String("app-dsn", os.Getenv("RADGATE_PG_DSN"), "application database DSN")
		radiusDSN  = flag.String("radius-dsn", os.Getenv("RADGATE_RADIUS_DSN"), "RADIUS database DSN")
		appDir     = flag.String("app-migrations", "migrations/app", "application migrations directory")
		radiusDir  = flag.String("radius-migrations", "migrations/radius", "RADIUS migrations directory")
		appSeeds   = flag.String("app-seeds", "migrations/seeds/app", "application seeds directory")
		onlyTarget = flag.String("db", "", "restrict to one database: app or radius")
	)
	flag.Parse()

	if *appDSN == "" || *radiusDSN == "" {
		log.Fatal("missing DSN: provide -app-dsn/-radius-dsn or RADGATE_PG_DSN/RADGATE_RADIUS_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [-db app|radius] [up|down|seed|status]")
	}
	if *onlyTarget != "" && *onlyTarget != "app" && *onlyTarget != "radius" {
		log.Fatalf("unknown database %q", *onlyTarget)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	appDB := open(*appDSN)
	defer appDB.Close()
	radDB := open(*radiusDSN)
	defer radDB.Close()

	set := migrate.NewSet(
		migrate.NewManager(appDB, *appDir, *appSeeds),
		migrate.NewManager(radDB, *radiusDir, ""),
	)

	one := func(which string) *migrate.Manager {
		if which == "radius" {
			return set.Radius
		}
		return set.App
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "up":
		if *onlyTarget != "" {
			err = one(*onlyTarget).Up(ctx)
		} else {
			err = set.UpAll(ctx)
		}
	case "down":
		if *onlyTarget == "" {
			log.Fatal("down requires -db app or -db radius")
		}
		err = one(*onlyTarget).Down(ctx)
	case "seed":
		if *onlyTarget != "" {
			err = one(*onlyTarget).Seed(ctx)
		} else {
			err = set.SeedAll(ctx)
		}
	case "status":
		var all map[string][]string
		all, err = set.StatusAll(ctx)
		if err == nil {
			labels := make([]string, 0, len(all))
			for label := range all {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				for _, name := range all[label] {
					fmt.Printf("%s\t%s\n", label, name)
				}
			}
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func open(dsn string) *sql.DB {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	return db
}
