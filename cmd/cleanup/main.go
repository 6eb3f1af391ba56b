package main

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/database"
	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/pkg/oss"

	"gorm.io/gorm"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, don't actually delete records")
	failedExpire  = flag.Int("failed-expire", 30, "Days to keep failed analyses")
	cleanFailed   = flag.Bool("clean-failed", true, "Clean expired failed analyses")
	cleanOrphans  = flag.Bool("clean-orphans", true, "Clean suggestions whose analysis is gone")
	cleanArchives = flag.Bool("clean-archives", false, "Delete OSS report archives of removed analyses")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// OSS（可选，只有 -clean-archives 时需要）
	var ossClient *oss.Client
	if *cleanArchives && cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		}
	}

	deletedAnalyses := 0
	deletedSuggestions := 0

	// 1. 清理过期的失败分析
	if *cleanFailed {
		log.Printf("\n🗑  Cleaning failed analyses (older than %d days)...", *failedExpire)
		a, s := cleanExpiredFailed(db, ossClient, *failedExpire, *dryRun)
		deletedAnalyses += a
		deletedSuggestions += s
	}

	// 2. 清理孤儿建议
	if *cleanOrphans {
		log.Println("\n🗑  Cleaning orphaned suggestions...")
		deletedSuggestions += cleanOrphanedSuggestions(db, *dryRun)
	}

	// 输出统计
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Deleted analyses: %d", deletedAnalyses)
	log.Printf("Deleted suggestions: %d", deletedSuggestions)
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - No records were actually deleted")
		log.Println("   Run with -dry-run=false to actually delete records")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanExpiredFailed 清理超过保留期的失败分析（连带建议和可选的 OSS 归档）
func cleanExpiredFailed(db *gorm.DB, ossClient *oss.Client, keepDays int, dryRun bool) (int, int) {
	expireTime := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	var analyses []model.Analysis
	err := db.Where("status = ? AND created_at < ?", model.StatusFailed, expireTime).
		Find(&analyses).Error
	if err != nil {
		log.Printf("Failed to query failed analyses: %v", err)
		return 0, 0
	}

	log.Printf("Found %d expired failed analyses", len(analyses))

	deletedAnalyses := 0
	deletedSuggestions := 0
	for _, analysis := range analyses {
		var suggestionCount int64
		db.Model(&model.Suggestion{}).Where("analysis_id = ?", analysis.ID).Count(&suggestionCount)

		log.Printf("  - %s (repo %s PR #%d, %s old, %d suggestions)",
			analysis.ID,
			analysis.RepositoryID,
			analysis.PRNumber,
			time.Since(analysis.CreatedAt).Round(time.Hour),
			suggestionCount)

		if dryRun {
			deletedAnalyses++
			deletedSuggestions += int(suggestionCount)
			continue
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&model.Suggestion{}).Error; err != nil {
				return err
			}
			return tx.Delete(&model.Analysis{}, "id = ?", analysis.ID).Error
		})
		if err != nil {
			log.Printf("    ❌ Failed to delete: %v", err)
			continue
		}

		if ossClient != nil {
			if err := ossClient.DeleteReport(analysis.ID); err != nil {
				log.Printf("    ⚠️  Failed to delete OSS archive: %v", err)
			}
		}

		deletedAnalyses++
		deletedSuggestions += int(suggestionCount)
	}

	return deletedAnalyses, deletedSuggestions
}

// cleanOrphanedSuggestions 清理分析记录已不存在的建议
func cleanOrphanedSuggestions(db *gorm.DB, dryRun bool) int {
	query := db.Model(&model.Suggestion{}).
		Where("analysis_id NOT IN (?)", db.Model(&model.Analysis{}).Select("id"))

	var count int64
	if err := query.Count(&count).Error; err != nil {
		log.Printf("Failed to count orphaned suggestions: %v", err)
		return 0
	}

	log.Printf("Found %d orphaned suggestions", count)
	if count == 0 || dryRun {
		return int(count)
	}

	result := db.Where("analysis_id NOT IN (?)", db.Model(&model.Analysis{}).Select("id")).
		Delete(&model.Suggestion{})
	if result.Error != nil {
		log.Printf("❌ Failed to delete orphaned suggestions: %v", result.Error)
		return 0
	}

	return int(result.RowsAffected)
}
