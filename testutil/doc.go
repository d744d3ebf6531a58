/*
包 testutil 提供各包单元测试共用的辅助函数。

# 核心能力

  - 上下文：TestContext / CancelledContext，
    通过 t.Cleanup 自动释放
  - 异步等待：WaitFor / WaitForChannel
  - 数据构造：NewRequest 生成合法请求，UnitVector 生成单位向量

# 子包

  - testutil/mocks：MockProvider 与 BatchMockProvider，支持固定响应、
    按调用脚本化错误、延迟注入与调用计数

# 使用示例

	ctx := testutil.TestContext(t)
	p := mocks.NewMockProvider("openai").WithResponse("hello")
	resp, err := p.GenerateText(ctx, testutil.NewRequest("clarity", "hi"))
*/
package testutil
