package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pixmux",
	Short: "Pixmux 是一个 LED 像素合成与 Art-Net 输出服务。",
	Long: `Pixmux 按演出文件合成多个图层，经像素映射转换为 DMX 数据，
以 Art-Net 发送到灯具控制器；多个引擎可以按主从关系同步切换片段。`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
