package cmd

import (
	"fmt"
	"log"

	"Pixmux/config"
	"Pixmux/core/pixelmap"

	"github.com/spf13/cobra"
)

var mapcheckCmd = &cobra.Command{
	Use:   "mapcheck [pixelmap.json]",
	Short: "校验像素映射并显示 universe 分配",
	Long:  `读取像素映射文件并校验，然后按当前 Art-Net 配置（起始 universe、通道顺序、位深）打印每个 universe 承载的像素。`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		path := cfg.PixelMapPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			log.Fatal("需要指定像素映射文件或设置 PIXELMAP_PATH")
		}

		pm, err := pixelmap.Load(path)
		if err != nil {
			log.Fatalf("像素映射无效: %v", err)
		}
		layout, err := cfg.OutputLayout()
		if err != nil {
			log.Fatalf("输出配置无效: %v", err)
		}

		fmt.Printf("像素映射: %s\n", path)
		fmt.Printf("画布: %dx%d, 对象: %d, 像素点: %d\n", pm.Canvas.Width, pm.Canvas.Height, len(pm.Objects), pm.PointCount())
		for _, obj := range pm.Objects {
			fmt.Printf("  %-24s %d\n", obj.ID, len(obj.Points))
		}

		spans := pixelmap.Plan(pm, layout)
		fmt.Printf("\n需要 %d 个 universe:\n", len(spans))
		for _, s := range spans {
			used := s.Pixels * s.Config.BytesPerPixel()
			fmt.Printf("  #%-3d universe %-5d %-5s %2d-bit  像素 %4d-%-4d  通道 %3d/512\n",
				s.Index, s.Number, s.Config.ChannelOrder, s.Config.BitDepth,
				s.FirstPoint, s.FirstPoint+s.Pixels-1, used)
		}
	},
}

func init() {
	rootCmd.AddCommand(mapcheckCmd)
}
