package services

import (
	"os"
	"path/filepath"
)

// LayoutValidator 项目布局校验器
//
// 检查工作树是否具备机器人项目的基本结构：domain文件、
// config文件和训练数据目录。每次checkout之后、以及新仓库
// 入库之前都必须通过校验。
type LayoutValidator struct {
	domainFile string
	configFile string
	dataDir    string
}

// NewLayoutValidator 创建布局校验器，文件名可配置
func NewLayoutValidator(domainFile, configFile, dataDir string) *LayoutValidator {
	if domainFile == "" {
		domainFile = "domain.yml"
	}
	if configFile == "" {
		configFile = "config.yml"
	}
	if dataDir == "" {
		dataDir = "data"
	}
	return &LayoutValidator{
		domainFile: domainFile,
		configFile: configFile,
		dataDir:    dataDir,
	}
}

// Validate 校验root下的项目布局，不合法时返回*ProjectLayoutError
func (v *LayoutValidator) Validate(root string) error {
	var missing []string

	if !fileExists(filepath.Join(root, v.domainFile)) {
		missing = append(missing, v.domainFile)
	}
	if !fileExists(filepath.Join(root, v.configFile)) {
		missing = append(missing, v.configFile)
	}
	if !dirExists(filepath.Join(root, v.dataDir)) {
		missing = append(missing, v.dataDir+"/")
	}

	if len(missing) > 0 {
		return &ProjectLayoutError{Path: root, Missing: missing}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
