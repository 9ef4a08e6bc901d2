package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"Pixmux/config"
	"Pixmux/core/pixelmap"
	"Pixmux/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioPush   string
	minioPull   string
	minioName   string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO像素映射与录制管理",
	Long:  `上传、下载像素映射，列出存储桶中的映射和录制文件，或删除指定前缀下的全部对象。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := cmd.Context()
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		// 根据参数执行不同的操作
		switch {
		case minioPush != "":
			pm, err := pixelmap.Load(minioPush)
			if err != nil {
				log.Fatalf("读取像素映射失败: %v", err)
			}
			name := minioName
			if name == "" {
				name = minioPush
			}
			key, err := store.PutPixelMap(ctx, name, pm)
			if err != nil {
				log.Fatalf("上传像素映射失败: %v", err)
			}
			fmt.Printf("\n已上传 %d 个像素点到 %s\n", pm.PointCount(), key)

		case minioPull != "":
			if minioName == "" {
				log.Fatal("下载像素映射需要用 -n 指定名称")
			}
			pm, err := store.GetPixelMap(ctx, minioName)
			if err != nil {
				log.Fatalf("下载像素映射失败: %v", err)
			}
			data, err := pixelmap.Marshal(pm)
			if err != nil {
				log.Fatalf("序列化像素映射失败: %v", err)
			}
			if err := os.WriteFile(minioPull, data, 0644); err != nil {
				log.Fatalf("写入文件失败: %v", err)
			}
			fmt.Printf("\n已下载 %s 到 %s\n", storage.PixelMapKey(minioName), minioPull)

		case minioDelete:
			// 删除目录
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			n, err := store.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("\n已删除 %d 个对象 (前缀: %s)\n", n, minioPrefix)

		default:
			// 列出文件
			fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
			objects, err := store.List(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("列出文件失败: %v", err)
			}
			var total int64
			for _, obj := range objects {
				total += obj.Size
				fmt.Printf("  %-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format(time.DateTime))
			}
			fmt.Printf("共 %d 个对象，总大小 %s\n", len(objects), storage.FormatSize(total))
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	// 添加命令行参数
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要删除的目录")
	minioCmd.Flags().StringVar(&minioPush, "push", "", "上传本地像素映射文件")
	minioCmd.Flags().StringVar(&minioPull, "pull", "", "把像素映射下载到指定本地文件")
	minioCmd.Flags().StringVarP(&minioName, "name", "n", "", "像素映射在存储桶中的名称")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有对象")

	// 添加使用说明
	minioCmd.Example = `  # 列出所有文件
  pixmux minio

  # 只看像素映射
  pixmux minio -p "pixelmaps/"

  # 上传像素映射
  pixmux minio --push ./stage.json -n stage

  # 下载像素映射
  pixmux minio --pull ./stage.json -n stage

  # 删除某个引擎的全部录制
  pixmux minio -d -p "recordings/main/"`
}
