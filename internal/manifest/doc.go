// Package manifest 描述一次应用构建的资源清单（逻辑路径 → 内容指纹）与核心
// shell 列表，并提供请求 URL 到逻辑键的解析、清单差异计算等纯函数，供 worker
// 在 install/activate/fetch 阶段复用。
package manifest
