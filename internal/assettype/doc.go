// Package assettype 聚合引擎可识别的资源类别及其扩展名，并提供统一的注册入口。
//
// 每个类别声明：
//  1. 类别键（script/text/json/...）与读取方式（responseType）；
//  2. 归属于该类别的扩展名，扩展名区分大小写（例如 .ExportJson）；
//  3. 诊断端展示用的描述。
//
// 下载路由依据这里的表为每个扩展名装配内置处理器。
package assettype
